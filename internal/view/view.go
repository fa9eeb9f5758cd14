// Package view composes the feed pieces into one scope-parameterized message
// view shared by channels, conversations and threads.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"huddle/api/internal/client"
	"huddle/api/internal/feed"
	"huddle/api/internal/logger"
	"huddle/api/internal/richtext"
	"huddle/api/internal/upload"
)

// ErrEmptyMessage rejects a send with a blank body and no attachment.
var ErrEmptyMessage = fmt.Errorf("%w: message is empty", client.ErrValidation)

// ErrNoUploads rejects an attachment when the view has no upload path.
var ErrNoUploads = errors.New("view: attachments are not available")

// ErrClosed is returned by actions on a closed view.
var ErrClosed = errors.New("view: closed")

const (
	defaultReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay     = 30 * time.Second
)

// Stream is a live event feed for one scope.
type Stream interface {
	Events() <-chan feed.Event
	Close()
}

// Messages is the message API a view loads a thread parent from and forwards
// user actions to.
type Messages interface {
	upload.MessageCreator
	GetMessage(ctx context.Context, messageID string) (feed.Message, error)
	UpdateMessage(ctx context.Context, messageID, body string) (feed.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ToggleReaction(ctx context.Context, messageID, value string) (feed.Message, error)
}

type Deps struct {
	Fetcher   feed.Fetcher
	Subscribe func(ctx context.Context, scope feed.Scope) (Stream, error)
	Slots     upload.SlotIssuer
	Transfer  upload.Transferer
	Messages  Messages
	Notifier  Notifier
}

// FromClient wires every dependency to one API client.
func FromClient(c *client.Client, notifier Notifier) Deps {
	return Deps{
		Fetcher: c,
		Subscribe: func(ctx context.Context, scope feed.Scope) (Stream, error) {
			sub, err := c.Subscribe(ctx, scope)
			if err != nil {
				return nil, err
			}
			return sub, nil
		},
		Slots:    c,
		Transfer: c,
		Messages: c,
		Notifier: notifier,
	}
}

type Options struct {
	Scope       feed.Scope
	WorkspaceID string
	Location    *time.Location
	PageSize    int
	Now         func() time.Time
	// ReconnectDelay is the first wait before resubscribing after the live
	// stream ends. It doubles per failed attempt up to 30s.
	ReconnectDelay time.Duration
}

// Row is one rendered message.
type Row struct {
	Message feed.Message
	// Compact rows omit the author and header time.
	Compact    bool
	AuthorName string
	// HTML is the body rendered for read-only display.
	HTML       string
	Time       string
	FullTime   string
	Edited     bool
	ShowThread bool
}

// Day is one date bucket with its label.
type Day struct {
	DateKey string
	Label   string
	Rows    []Row
}

// Frame is everything needed to draw the view at one instant.
type Frame struct {
	Scope feed.Scope
	// Parent is the thread's parent message, nil outside thread scope or
	// until it loads.
	Parent *Row
	// NotFound is set when the scope, or the thread's parent, does not exist.
	NotFound bool
	// Live reports whether live updates are currently flowing.
	Live             bool
	Status           feed.Status
	Days             []Day
	Loading          bool
	NoMoreMessages   bool
	ShowThreadButton bool
	Composer         ComposerState
}

type View struct {
	opts        Options
	deps        Deps
	pager       *feed.Pager
	composer    *Composer
	coordinator *upload.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// rendering counts OnRender callbacks in progress.
	rendering atomic.Int32

	mu       sync.Mutex
	closed   bool
	stream   Stream
	live     bool
	parent   *feed.Message
	notFound bool
	onRender func(Frame)
}

// Open subscribes to live changes for the scope and loads the first page, and
// the parent message in thread scope. Fetch and subscription failures are
// reported through the notifier, except a missing scope which sets
// Frame.NotFound. The returned view stays usable and Retry reloads.
func Open(ctx context.Context, deps Deps, opts Options) (*View, error) {
	if !opts.Scope.Valid() {
		return nil, fmt.Errorf("open view: %w: invalid scope", client.ErrValidation)
	}
	if deps.Fetcher == nil || deps.Messages == nil {
		return nil, errors.New("open view: fetcher and messages are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = discard{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}

	viewCtx, cancel := context.WithCancel(context.Background())
	v := &View{
		opts:     opts,
		deps:     deps,
		pager:    feed.NewPager(deps.Fetcher, opts.Scope, opts.PageSize),
		composer: NewComposer(),
		ctx:      viewCtx,
		cancel:   cancel,
	}
	v.coordinator = upload.NewCoordinator(deps.Slots, deps.Transfer, deps.Messages, v.composer)
	v.pager.OnChange(func(feed.Snapshot) { v.render() })

	if opts.Scope.Kind == feed.ScopeThread {
		v.loadParent(ctx)
	}

	if deps.Subscribe != nil {
		stream, err := deps.Subscribe(viewCtx, opts.Scope)
		switch {
		case err == nil:
			v.attach(stream)
		case permanent(err):
			v.failLoad("subscribe", err)
		default:
			notifyError(deps.Notifier, "subscribe", err)
			v.wg.Add(1)
			go func() {
				defer v.wg.Done()
				v.reconnect()
			}()
		}
	}

	if err := v.pager.Start(ctx); err != nil {
		v.failLoad("load messages", err)
	}
	return v, nil
}

// permanent reports subscription errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, client.ErrAuth) || errors.Is(err, client.ErrNotFound) || errors.Is(err, client.ErrValidation)
}

func (v *View) loadParent(ctx context.Context) {
	parent, err := v.deps.Messages.GetMessage(ctx, v.opts.Scope.ID)
	if err != nil {
		v.failLoad("load thread", err)
		return
	}
	v.mu.Lock()
	v.parent = &parent
	v.mu.Unlock()
	v.render()
}

// failLoad reports a failed read. A missing scope is shown as NotFound rather
// than as a toast.
func (v *View) failLoad(action string, err error) {
	if errors.Is(err, feed.ErrClosed) || v.isClosed() {
		return
	}
	if errors.Is(err, client.ErrNotFound) {
		v.mu.Lock()
		v.notFound = true
		v.mu.Unlock()
		logger.Log.Debug("view scope not found", zap.String("scope", v.opts.Scope.Key()), zap.String("action", action))
		v.render()
		return
	}
	notifyError(v.deps.Notifier, action, err)
}

// attach starts consuming stream unless the view has closed.
func (v *View) attach(stream Stream) bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		stream.Close()
		return false
	}
	v.stream = stream
	v.live = true
	v.wg.Add(1)
	v.mu.Unlock()

	go v.consume(stream)
	v.render()
	return true
}

func (v *View) consume(stream Stream) {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				v.streamEnded(stream)
				return
			}
			v.apply(event)
		}
	}
}

// streamEnded marks the view as no longer live and resubscribes. Events may
// have been missed, so a successful resubscribe is followed by a refresh.
func (v *View) streamEnded(stream Stream) {
	stream.Close()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if v.stream == stream {
		v.stream = nil
	}
	v.live = false
	v.mu.Unlock()

	logger.Log.Info("live stream ended", zap.String("scope", v.opts.Scope.Key()))
	v.deps.Notifier.Notify(Notification{Level: LevelInfo, Message: "Live updates interrupted. Reconnecting."})
	v.render()
	v.reconnect()
}

func (v *View) reconnect() {
	delay := v.opts.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-v.ctx.Done():
			return
		case <-time.After(delay):
		}

		stream, err := v.deps.Subscribe(v.ctx, v.opts.Scope)
		if err != nil {
			if v.ctx.Err() != nil {
				return
			}
			if permanent(err) {
				v.failLoad("subscribe", err)
				return
			}
			logger.Log.Warn("resubscribe failed", zap.String("scope", v.opts.Scope.Key()), zap.Int("attempt", attempt), zap.Error(err))
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		if !v.attach(stream) {
			return
		}
		logger.Log.Info("live stream restored", zap.String("scope", v.opts.Scope.Key()), zap.Int("attempt", attempt))
		if v.opts.Scope.Kind == feed.ScopeThread {
			v.loadParent(v.ctx)
		}
		if err := v.pager.Refresh(v.ctx); err != nil {
			v.failLoad("refresh messages", err)
		}
		return
	}
}

// apply routes an event about the thread's parent to the parent row and
// everything else to the pager.
func (v *View) apply(event feed.Event) {
	if v.applyParent(event) {
		return
	}
	v.pager.Apply(event)
}

func (v *View) applyParent(event feed.Event) bool {
	if v.opts.Scope.Kind != feed.ScopeThread {
		return false
	}
	id := event.MessageID
	if id == "" && event.Message != nil {
		id = event.Message.ID
	}
	if id != v.opts.Scope.ID {
		return false
	}

	v.mu.Lock()
	switch event.Kind {
	case feed.EventRemove:
		v.parent = nil
		v.notFound = true
	case feed.EventUpsert:
		if event.Message != nil && (v.parent == nil || !feed.Newer(*v.parent, *event.Message)) {
			message := *event.Message
			v.parent = &message
		}
	}
	v.mu.Unlock()
	v.render()
	return true
}

func (v *View) Scope() feed.Scope {
	return v.opts.Scope
}

func (v *View) Composer() *Composer {
	return v.composer
}

// OnRender registers fn to receive a fresh frame after every change.
func (v *View) OnRender(fn func(Frame)) {
	v.mu.Lock()
	v.onRender = fn
	v.mu.Unlock()
}

func (v *View) render() {
	v.mu.Lock()
	fn := v.onRender
	closed := v.closed
	v.mu.Unlock()
	if closed || fn == nil {
		return
	}
	v.rendering.Add(1)
	defer v.rendering.Add(-1)
	fn(v.Frame())
}

// OnSentinelVisible handles the scrollback sentinel intersecting the
// viewport. Only a fully visible sentinel in CanLoadMore fetches.
func (v *View) OnSentinelVisible(ctx context.Context, ratio float64) {
	if ratio < 1.0 || v.isClosed() || v.pager.Status() != feed.StatusCanLoadMore {
		return
	}
	if _, err := v.pager.LoadMore(ctx); err != nil && !errors.Is(err, feed.ErrClosed) {
		notifyError(v.deps.Notifier, "load more", err)
	}
}

// Retry reloads the first page, and a missing thread parent, after a failed
// Open.
func (v *View) Retry(ctx context.Context) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.notFound = false
	needParent := v.opts.Scope.Kind == feed.ScopeThread && v.parent == nil
	v.mu.Unlock()

	if needParent {
		v.loadParent(ctx)
	}
	if err := v.pager.Start(ctx); err != nil {
		v.failLoad("load messages", err)
	}
	v.render()
}

// Send validates the draft and hands it to the upload coordinator.
func (v *View) Send(ctx context.Context, body string, attachment *upload.Attachment) (string, error) {
	if v.isClosed() {
		return "", ErrClosed
	}
	if richtext.IsEmpty(body) && attachment == nil {
		notifyError(v.deps.Notifier, "send", ErrEmptyMessage)
		return "", ErrEmptyMessage
	}
	if attachment != nil && (v.deps.Slots == nil || v.deps.Transfer == nil) {
		notifyError(v.deps.Notifier, "send", ErrNoUploads)
		return "", ErrNoUploads
	}

	id, err := v.coordinator.Send(ctx, upload.Draft{Message: v.newMessage(body), Attachment: attachment})
	if err != nil {
		if !v.isClosed() {
			notifyError(v.deps.Notifier, "send", err)
		}
		return "", err
	}
	return id, nil
}

func (v *View) newMessage(body string) client.NewMessage {
	msg := client.NewMessage{Body: body, WorkspaceID: v.opts.WorkspaceID}
	switch v.opts.Scope.Kind {
	case feed.ScopeThread:
		msg.ParentMessageID = v.opts.Scope.ID
	case feed.ScopeConversation:
		msg.ConversationID = v.opts.Scope.ID
	default:
		msg.ChannelID = v.opts.Scope.ID
	}
	return msg
}

// Edit replaces a message body.
func (v *View) Edit(ctx context.Context, messageID, body string) error {
	if v.isClosed() {
		return ErrClosed
	}
	if richtext.IsEmpty(body) {
		notifyError(v.deps.Notifier, "edit", ErrEmptyMessage)
		return ErrEmptyMessage
	}
	updated, err := v.deps.Messages.UpdateMessage(ctx, messageID, body)
	if err != nil {
		v.fail("edit", err)
		return err
	}
	v.apply(feed.Event{Kind: feed.EventUpsert, Message: &updated})
	return nil
}

func (v *View) Delete(ctx context.Context, messageID string) error {
	if v.isClosed() {
		return ErrClosed
	}
	if err := v.deps.Messages.DeleteMessage(ctx, messageID); err != nil {
		v.fail("delete", err)
		return err
	}
	v.apply(feed.Event{Kind: feed.EventRemove, MessageID: messageID})
	return nil
}

func (v *View) React(ctx context.Context, messageID, value string) error {
	if v.isClosed() {
		return ErrClosed
	}
	updated, err := v.deps.Messages.ToggleReaction(ctx, messageID, value)
	if err != nil {
		v.fail("react", err)
		return err
	}
	v.apply(feed.Event{Kind: feed.EventUpsert, Message: &updated})
	return nil
}

func (v *View) fail(action string, err error) {
	if v.isClosed() {
		return
	}
	notifyError(v.deps.Notifier, action, err)
}

// Frame groups the current snapshot and labels it against the clock.
func (v *View) Frame() Frame {
	snapshot := v.pager.Snapshot()
	now := v.opts.Now()
	loc := v.opts.Location
	showThread := v.opts.Scope.Kind != feed.ScopeThread

	buckets := feed.Group(snapshot.Messages, loc)
	days := make([]Day, 0, len(buckets))
	for _, bucket := range buckets {
		day := Day{
			DateKey: bucket.DateKey,
			Label:   feed.DateLabel(bucket.DateKey, now, loc),
			Rows:    make([]Row, 0, len(bucket.Entries)),
		}
		for _, entry := range bucket.Entries {
			day.Rows = append(day.Rows, newRow(entry.Message, entry.Compact, showThread, now, loc))
		}
		days = append(days, day)
	}

	v.mu.Lock()
	var parent *Row
	if v.parent != nil {
		row := newRow(*v.parent, false, false, now, loc)
		parent = &row
	}
	notFound, live := v.notFound, v.live
	v.mu.Unlock()

	return Frame{
		Scope:            v.opts.Scope,
		Parent:           parent,
		NotFound:         notFound,
		Live:             live,
		Status:           snapshot.Status,
		Days:             days,
		Loading:          !notFound && (snapshot.Status == feed.StatusLoadingFirstPage || snapshot.Status == feed.StatusLoadingMore),
		NoMoreMessages:   snapshot.Status == feed.StatusExhausted,
		ShowThreadButton: showThread,
		Composer:         v.composer.State(),
	}
}

func newRow(msg feed.Message, compact, showThread bool, now time.Time, loc *time.Location) Row {
	row := Row{
		Message:    msg,
		Compact:    compact,
		AuthorName: msg.AuthorName(),
		HTML:       richtext.ToHTML(msg.Body),
		FullTime:   feed.FullTimeLabel(msg.CreatedAt, now, loc),
		Edited:     msg.Edited(),
		ShowThread: showThread && msg.Thread.Count > 0,
	}
	if compact {
		row.Time = feed.CompactTime(msg.CreatedAt, loc)
	} else {
		row.Time = feed.HeaderTime(msg.CreatedAt, loc)
	}
	return row
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close cancels the live subscription, disposes the composer and makes every
// pending callback inert. It is safe to call more than once, including from
// inside an OnRender callback; that call returns without waiting for the live
// goroutines, which exit on their own.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.onRender = nil
	stream := v.stream
	v.live = false
	v.mu.Unlock()

	v.pager.Close()
	v.cancel()
	if stream != nil {
		stream.Close()
	}
	if v.rendering.Load() == 0 {
		v.wg.Wait()
	}
	v.composer.Dispose()
	logger.Log.Debug("view closed", zap.String("scope", v.opts.Scope.Key()))
}
