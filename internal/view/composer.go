package view

import "sync"

// ComposerState is what a rendered editor needs to know. A new Generation
// means the editor content must be cleared.
type ComposerState struct {
	Enabled    bool
	Generation int
}

// Composer is the single message input owned by the active view.
type Composer struct {
	mu        sync.Mutex
	state     ComposerState
	disposed  bool
	nextID    int
	listeners map[int]func(ComposerState)
}

func NewComposer() *Composer {
	return &Composer{
		state:     ComposerState{Enabled: true},
		listeners: make(map[int]func(ComposerState)),
	}
}

func (c *Composer) Disable() {
	c.update(func(s *ComposerState) { s.Enabled = false })
}

func (c *Composer) Enable() {
	c.update(func(s *ComposerState) { s.Enabled = true })
}

// Reset clears the draft by bumping the generation.
func (c *Composer) Reset() {
	c.update(func(s *ComposerState) { s.Generation++ })
}

func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listen registers fn for state changes and returns its removal func.
func (c *Composer) Listen(fn func(ComposerState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Listeners reports how many listeners are registered.
func (c *Composer) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Dispose drops every listener and disables the composer for good.
func (c *Composer) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.state.Enabled = false
	c.listeners = make(map[int]func(ComposerState))
	c.mu.Unlock()
}

func (c *Composer) update(change func(*ComposerState)) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	change(&c.state)
	state := c.state
	listeners := make([]func(ComposerState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
