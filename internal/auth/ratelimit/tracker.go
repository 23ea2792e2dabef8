// Package ratelimit tracks failed login attempts per client address and
// enforces a lockout window once the failure threshold is reached.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

type record struct {
	failures    int
	lastAttempt time.Time
}

// Tracker is an in-process failure counter keyed by client address. Each
// backend instance enforces its own limit; a multi-instance deployment would
// need a shared store behind the same interface.
type Tracker struct {
	mu          sync.Mutex
	records     map[string]*record
	maxAttempts int
	lockout     time.Duration
	nowF        func() time.Time
}

// NewTracker returns a Tracker allowing maxAttempts failures per key before
// the lockout window applies.
func NewTracker(maxAttempts int, lockout time.Duration) *Tracker {
	return &Tracker{
		records:     make(map[string]*record),
		maxAttempts: maxAttempts,
		lockout:     lockout,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// CheckAllowed reports whether the key may attempt a login. When the failure
// count has reached the threshold and the lockout window is still open, it
// returns false with a remaining-seconds message; once the window has elapsed
// the counter resets to zero and the attempt is allowed.
func (t *Tracker) CheckAllowed(key string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[key]
	if !ok || r.failures < t.maxAttempts {
		return true, ""
	}
	lockoutEnd := r.lastAttempt.Add(t.lockout)
	now := t.nowF()
	if now.Before(lockoutEnd) {
		remaining := int(lockoutEnd.Sub(now).Seconds())
		return false, fmt.Sprintf("too many failed login attempts, try again in %d seconds", remaining)
	}
	r.failures = 0
	return true, ""
}

// RecordFailure increments the failure count for key and stamps the attempt
// time, creating the record if absent.
func (t *Tracker) RecordFailure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[key]
	if !ok {
		r = &record{}
		t.records[key] = r
	}
	r.failures++
	r.lastAttempt = t.nowF()
}

// Reset clears the failure count for key after a successful login. The record
// itself is kept.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[key]; ok {
		r.failures = 0
	}
}
