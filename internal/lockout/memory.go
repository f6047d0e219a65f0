package lockout

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// MemoryTracker keeps failure counters in process memory.
type MemoryTracker struct {
	mu      sync.Mutex
	policy  Policy
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryTracker creates a tracker enforcing policy.
func NewMemoryTracker(policy Policy) *MemoryTracker {
	return &MemoryTracker{
		policy:  policy,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces the tracker's time source.
func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.now = now
	return t
}

// Locked reports whether the key is currently locked out.
func (t *MemoryTracker) Locked(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false, nil
	}
	return t.now().Before(e.lockedUntil), nil
}

// Fail records one failure and reports whether the key is now locked.
func (t *MemoryTracker) Fail(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[key]
	if !ok || now.Sub(e.windowStart) >= t.policy.Window {
		e = &entry{windowStart: now, lockedUntil: lockedUntilOf(e)}
		t.entries[key] = e
	}

	e.failures++
	if e.failures >= t.policy.MaxAttempts {
		e.lockedUntil = now.Add(t.policy.Duration)
		e.failures = 0
		e.windowStart = now
		return true, nil
	}
	return now.Before(e.lockedUntil), nil
}

// Reset clears the failure count for the key. An active lock is left to expire.
func (t *MemoryTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if t.now().Before(e.lockedUntil) {
		e.failures = 0
		return nil
	}
	delete(t.entries, key)
	return nil
}

func lockedUntilOf(e *entry) time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.lockedUntil
}
