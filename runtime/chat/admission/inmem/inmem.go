// Package inmem provides an in-memory implementation of admission.Guard.
//
// It is intended for tests and single-process deployments. Multi-instance
// deployments should use a shared implementation (for example
// features/admission/redis) so the invariant holds across processes.
package inmem

import (
	"context"
	"errors"
	"sync"

	"github.com/retailstream/concierge/runtime/chat/admission"
)

// Guard is an in-memory implementation of admission.Guard. It is safe for
// concurrent use.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// New returns a Guard with no admissions held.
func New() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// Acquire implements admission.Guard.
func (g *Guard) Acquire(_ context.Context, conversationID string) (func(context.Context) error, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[conversationID]; held {
		return nil, admission.ErrTurnActive
	}
	g.active[conversationID] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, conversationID)
			g.mu.Unlock()
		})
		return nil
	}
	return release, nil
}
