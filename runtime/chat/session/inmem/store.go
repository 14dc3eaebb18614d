// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (for example features/session/mongo).
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/retailstream/concierge/runtime/chat/session"
)

// Store is an in-memory implementation of session.Store. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]session.Session)}
}

// Create implements session.Store.
func (s *Store) Create(_ context.Context, conversationID string) (session.Session, error) {
	if conversationID == "" {
		return session.Session{}, errors.New("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[conversationID]; ok {
		return clone(existing), nil
	}
	out := session.Session{
		ConversationID: conversationID,
		LastActive:     time.Now().UTC(),
	}
	s.sessions[conversationID] = out
	return clone(out), nil
}

// Append implements session.Store. A missing session is created, matching
// the durable stores' upsert behavior.
func (s *Store) Append(_ context.Context, conversationID string, role session.Role, text string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.sessions[conversationID]
	existing.ConversationID = conversationID
	existing.Turns = append(existing.Turns, session.Turn{Role: role, Text: text})
	existing.LastActive = time.Now().UTC()
	s.sessions[conversationID] = existing
	return nil
}

// History implements session.Store.
func (s *Store) History(_ context.Context, conversationID string) ([]session.Turn, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.sessions[conversationID]
	if !ok {
		return nil, session.ErrNotFound
	}
	out := make([]session.Turn, len(existing.Turns))
	copy(out, existing.Turns)
	return out, nil
}

// Clear implements session.Store.
func (s *Store) Clear(_ context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[conversationID]
	if !ok {
		return session.ErrNotFound
	}
	existing.Turns = nil
	existing.LastActive = time.Now().UTC()
	s.sessions[conversationID] = existing
	return nil
}

// Sweep removes sessions whose last activity predates olderThan and returns
// how many were removed. Callers typically pass
// time.Now().Add(-session.InactivityWindow).
func (s *Store) Sweep(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActive.Before(olderThan) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func clone(in session.Session) session.Session {
	out := in
	if len(in.Turns) > 0 {
		out.Turns = make([]session.Turn, len(in.Turns))
		copy(out.Turns, in.Turns)
	}
	return out
}
