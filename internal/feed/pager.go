package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Status is the pagination state of a feed.
type Status int

const (
	StatusLoadingFirstPage Status = iota
	StatusCanLoadMore
	StatusLoadingMore
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusLoadingFirstPage:
		return "LoadingFirstPage"
	case StatusCanLoadMore:
		return "CanLoadMore"
	case StatusLoadingMore:
		return "LoadingMore"
	case StatusExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// DefaultPageSize is the number of messages requested per backward fetch.
const DefaultPageSize = 20

// Page is one backward slice of history, newest first.
type Page struct {
	Messages       []Message `json:"page"`
	ContinueCursor string    `json:"continueCursor"`
	IsDone         bool      `json:"isDone"`
}

// Fetcher loads a page of a scope's history older than cursor. An empty
// cursor asks for the newest page.
type Fetcher interface {
	FetchPage(ctx context.Context, scope Scope, cursor string, limit int) (Page, error)
}

// Snapshot is the current merged view of a feed.
type Snapshot struct {
	Status   Status
	Messages []Message
}

// ErrClosed is returned by operations that complete after Close.
var ErrClosed = errors.New("feed: pager closed")

// Pager accumulates backward pages and live deliveries for one scope. Only one
// backward fetch is outstanding at a time; live merges never move the cursor.
//
// The merged result does not depend on arrival order. A copy with a higher
// Version wins. At equal versions a live copy wins over a page copy that was
// requested before the live copy arrived.
type Pager struct {
	fetcher  Fetcher
	scope    Scope
	pageSize int

	mu       sync.Mutex
	status   Status
	cursor   string
	inflight bool
	closed   bool
	messages map[string]Message
	removed  map[string]struct{}
	// liveSeq counts live deliveries; liveAt holds the count at each message's
	// latest one.
	liveSeq  uint64
	liveAt   map[string]uint64
	onChange func(Snapshot)
}

func NewPager(fetcher Fetcher, scope Scope, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		fetcher:  fetcher,
		scope:    scope,
		pageSize: pageSize,
		status:   StatusLoadingFirstPage,
		messages: make(map[string]Message),
		removed:  make(map[string]struct{}),
		liveAt:   make(map[string]uint64),
	}
}

// OnChange registers the callback invoked after every state or data change.
func (p *Pager) OnChange(fn func(Snapshot)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Pager) Scope() Scope {
	return p.scope
}

func (p *Pager) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Start fetches the first page. A failed first fetch leaves the pager in
// LoadingFirstPage so Start can be retried.
func (p *Pager) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.status != StatusLoadingFirstPage || p.inflight {
		p.mu.Unlock()
		return nil
	}
	p.inflight = true
	since := p.liveSeq
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(ctx, p.scope, "", p.pageSize)
	return p.complete(page, err, since, StatusLoadingFirstPage)
}

// LoadMore fetches the next older page. It reports false without fetching
// unless the pager is in CanLoadMore. On failure the state rolls back to
// CanLoadMore and already loaded pages are untouched.
func (p *Pager) LoadMore(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.closed || p.status != StatusCanLoadMore || p.inflight {
		p.mu.Unlock()
		return false, nil
	}
	p.inflight = true
	p.status = StatusLoadingMore
	cursor := p.cursor
	since := p.liveSeq
	notify, snap := p.snapshotLocked()
	p.mu.Unlock()
	if notify != nil {
		notify(snap)
	}

	page, err := p.fetcher.FetchPage(ctx, p.scope, cursor, p.pageSize)
	return true, p.complete(page, err, since, StatusCanLoadMore)
}

// Refresh refetches the newest page, for use after live delivery was
// interrupted. The backward cursor and status are left alone. Messages inside
// the refreshed window that the server no longer returns are dropped unless a
// live delivery for them arrived after the refetch began.
func (p *Pager) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.status == StatusLoadingFirstPage {
		p.mu.Unlock()
		return p.Start(ctx)
	}
	since := p.liveSeq
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(ctx, p.scope, "", p.pageSize)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		p.mu.Unlock()
		return err
	}
	returned := make(map[string]bool, len(page.Messages))
	for _, message := range page.Messages {
		returned[message.ID] = true
		p.mergePageLocked(message, since)
	}
	whole := page.IsDone || page.ContinueCursor == ""
	if n := len(page.Messages); whole || n > 0 {
		var oldest Message
		if n > 0 {
			oldest = page.Messages[n-1]
		}
		for id, message := range p.messages {
			if returned[id] || p.liveAt[id] > since {
				continue
			}
			if whole || !olderThan(message, oldest) {
				delete(p.messages, id)
			}
		}
	}
	notify, snap := p.snapshotLocked()
	p.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
	return nil
}

func (p *Pager) complete(page Page, err error, since uint64, rollback Status) error {
	p.mu.Lock()
	p.inflight = false
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		changed := p.status != rollback
		p.status = rollback
		var notify func(Snapshot)
		var snap Snapshot
		if changed {
			notify, snap = p.snapshotLocked()
		}
		p.mu.Unlock()
		if notify != nil {
			notify(snap)
		}
		return err
	}

	for _, message := range page.Messages {
		p.mergePageLocked(message, since)
	}
	p.cursor = page.ContinueCursor
	if page.IsDone || page.ContinueCursor == "" {
		p.status = StatusExhausted
	} else {
		p.status = StatusCanLoadMore
	}
	notify, snap := p.snapshotLocked()
	p.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
	return nil
}

// Merge upserts live messages by identity. Duplicate deliveries are absorbed
// and a delivery older than the held copy is ignored.
func (p *Pager) Merge(messages ...Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for _, message := range messages {
		p.mergeLiveLocked(message)
	}
	notify, snap := p.snapshotLocked()
	p.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
}

// Remove drops a message and keeps it from being re-added by a page that was
// already in flight when the removal arrived.
func (p *Pager) Remove(id string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	delete(p.messages, id)
	p.removed[id] = struct{}{}
	p.liveSeq++
	p.liveAt[id] = p.liveSeq
	notify, snap := p.snapshotLocked()
	p.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
}

// Apply routes a live event to Merge or Remove.
func (p *Pager) Apply(event Event) {
	switch event.Kind {
	case EventUpsert:
		if event.Message != nil {
			p.Merge(*event.Message)
		}
	case EventRemove:
		id := event.MessageID
		if id == "" && event.Message != nil {
			id = event.Message.ID
		}
		if id != "" {
			p.Remove(id)
		}
	}
}

// Snapshot returns the deduplicated union of everything received, newest
// first.
func (p *Pager) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Status: p.status, Messages: p.sortedLocked()}
}

// Close makes every later completion, merge and notification inert.
func (p *Pager) Close() {
	p.mu.Lock()
	p.closed = true
	p.onChange = nil
	p.mu.Unlock()
}

func (p *Pager) mergeLiveLocked(message Message) {
	if message.ID == "" {
		return
	}
	if _, gone := p.removed[message.ID]; gone {
		return
	}
	p.liveSeq++
	p.liveAt[message.ID] = p.liveSeq
	if existing, ok := p.messages[message.ID]; ok && Newer(existing, message) {
		return
	}
	p.messages[message.ID] = message
}

// mergePageLocked merges a message from a page requested when liveSeq was
// since.
func (p *Pager) mergePageLocked(message Message, since uint64) {
	if message.ID == "" {
		return
	}
	if _, gone := p.removed[message.ID]; gone {
		return
	}
	if existing, ok := p.messages[message.ID]; ok {
		if Newer(existing, message) {
			return
		}
		if !Newer(message, existing) && p.liveAt[message.ID] > since {
			return
		}
	}
	p.messages[message.ID] = message
}

// Newer reports whether a is a strictly later revision of the same message
// than b. Versions decide when both copies carry one; otherwise the edit time
// does.
func Newer(a, b Message) bool {
	if a.Version > 0 && b.Version > 0 {
		return a.Version > b.Version
	}
	if a.UpdatedAt == nil {
		return false
	}
	return b.UpdatedAt == nil || a.UpdatedAt.After(*b.UpdatedAt)
}

// olderThan reports whether a sorts strictly after b in newest-first order.
func olderThan(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (p *Pager) snapshotLocked() (func(Snapshot), Snapshot) {
	if p.onChange == nil {
		return nil, Snapshot{}
	}
	return p.onChange, Snapshot{Status: p.status, Messages: p.sortedLocked()}
}

func (p *Pager) sortedLocked() []Message {
	out := make([]Message, 0, len(p.messages))
	for _, message := range p.messages {
		out = append(out, message)
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders by creation time descending, ID descending on ties.
func SortNewestFirst(messages []Message) {
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.After(messages[j].CreatedAt)
		}
		return messages[i].ID > messages[j].ID
	})
}
