// Package live fans message changes out to feed subscribers over Redis
// pub/sub, so every API instance sees writes made by the others.
package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"huddle/api/internal/feed"
	"huddle/api/internal/logger"
	"huddle/api/internal/metrics"
)

const subscriberBuffer = 64

type Hub struct {
	client *redis.Client
	prefix string
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{client: client, prefix: "huddle:feed:"}
}

func (h *Hub) topic(scope feed.Scope) string {
	return h.prefix + scope.Key()
}

// Publish delivers event to every current subscriber of scope.
func (h *Hub) Publish(ctx context.Context, scope feed.Scope, event feed.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, h.topic(scope), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", scope.Key(), err)
	}
	return nil
}

// Subscription is a live stream of events for one scope.
type Subscription struct {
	Events <-chan feed.Event
	pubsub *redis.PubSub
	done   chan struct{}
}

// Close stops delivery and closes Events.
func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe returns once Redis has confirmed the subscription, so any event
// published afterwards is delivered. A subscriber that lets its buffer fill
// is cut off: Events closes so the reader knows it missed events and must
// resync.
func (h *Hub) Subscribe(ctx context.Context, scope feed.Scope) (*Subscription, error) {
	pubsub := h.client.Subscribe(ctx, h.topic(scope))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", scope.Key(), err)
	}

	events := make(chan feed.Event, subscriberBuffer)
	done := make(chan struct{})
	metrics.SubscriberOpened()

	go func() {
		defer close(done)
		defer close(events)
		defer metrics.SubscriberClosed()
		for msg := range pubsub.Channel() {
			var event feed.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Log.Warn("dropping malformed feed event", zap.String("scope", scope.Key()), zap.Error(err))
				continue
			}
			select {
			case events <- event:
			default:
				logger.Log.Warn("feed subscriber is slow, ending subscription", zap.String("scope", scope.Key()))
				metrics.SubscriberOverflowed()
				_ = pubsub.Close()
				return
			}
		}
	}()

	return &Subscription{Events: events, pubsub: pubsub, done: done}, nil
}
