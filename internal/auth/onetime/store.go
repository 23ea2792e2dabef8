// Package onetime provides an in-memory store for single-use, time-boxed
// tokens (email verification, password reset). Tokens are process-local and
// are not persisted.
package onetime

import (
	"context"
	"sync"
	"time"
)

// Store holds one-time tokens keyed by the raw token string.
type Store interface {
	// Put stores the user id for token until expiresAt.
	Put(ctx context.Context, token, userID string, expiresAt time.Time)
	// Consume returns the user id for token and removes it. A token can be
	// consumed at most once; expired or unknown tokens return ok false.
	Consume(ctx context.Context, token string) (userID string, ok bool)
}

type entry struct {
	userID    string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory one-time token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores the user id for token until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, token, userID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[token] = entry{userID: userID, expiresAt: expiresAt}
}

// Consume returns the user id for token if present and not expired, removing
// the entry either way so the token cannot be replayed.
func (s *MemoryStore) Consume(ctx context.Context, token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[token]
	if !ok {
		return "", false
	}
	delete(s.m, token)
	if !e.expiresAt.After(s.nowF()) {
		return "", false
	}
	return e.userID, true
}
