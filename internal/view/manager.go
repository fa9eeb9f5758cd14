package view

import (
	"context"
	"sync"

	"huddle/api/internal/feed"
)

// Manager owns the single active view. Showing a new scope closes the
// previous view before the next one opens, so only one view ever holds the
// composer.
type Manager struct {
	deps Deps
	base Options

	mu     sync.Mutex
	active *View
}

// NewManager uses base for every view it opens; Scope is replaced per Show.
func NewManager(deps Deps, base Options) *Manager {
	return &Manager{deps: deps, base: base}
}

func (m *Manager) Show(ctx context.Context, scope feed.Scope) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.Scope() == scope {
			return m.active, nil
		}
		m.active.Close()
		m.active = nil
	}

	opts := m.base
	opts.Scope = scope
	v, err := Open(ctx, m.deps, opts)
	if err != nil {
		return nil, err
	}
	m.active = v
	return v, nil
}

func (m *Manager) Active() *View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}
