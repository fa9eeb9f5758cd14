package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"huddle/api/internal/feed"
	"huddle/api/internal/logger"
)

// Subscription is a live stream of feed events for one scope.
type Subscription struct {
	events <-chan feed.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events is closed when the stream ends or Close is called.
func (s *Subscription) Events() <-chan feed.Event {
	return s.events
}

// Close stops the stream and waits for Events to close.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Subscribe opens the server-sent event stream for scope. It returns once the
// service has accepted the subscription; events published after that are
// delivered in order.
func (c *Client) Subscribe(ctx context.Context, scope feed.Scope) (*Subscription, error) {
	query := scopeQuery(scope)
	if c.token != "" {
		query.Set("token", c.token)
	}
	endpoint, err := c.buildURL("/api/messages/stream", query)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, networkError("GET /api/messages/stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, decodeAPIError(resp.StatusCode, data)
	}

	events := make(chan feed.Event, 16)
	sub := &Subscription{events: events, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer close(events)
		defer resp.Body.Close()
		readEvents(streamCtx, resp.Body, events)
	}()
	return sub, nil
}

// readEvents parses an event stream until EOF or cancellation. Comment lines
// and event names are ignored; the event kind travels in the JSON payload.
func readEvents(ctx context.Context, body io.Reader, out chan<- feed.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event feed.Event
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				logger.Log.Warn("decode feed event", zap.Error(err))
			} else {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Log.Warn("feed stream ended", zap.Error(err))
	}
}
