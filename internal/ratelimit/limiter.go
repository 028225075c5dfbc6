package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds attempts per key within a fixed window. Allow reports
// whether this attempt is within budget. A denied attempt does not
// extend the window: a blocked caller stays blocked until the original
// window expires.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error)
}

// Memory is a process-local Limiter. It provides no cross-instance
// guarantee; horizontally scaled deployments should use Redis instead.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string, max int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.resetAt) {
		m.entries[key] = &windowEntry{count: 1, resetAt: now.Add(window)}
		return true, nil
	}
	e.count++
	return e.count <= max, nil
}

// Prune drops entries whose window has expired. Optional housekeeping;
// correctness does not depend on it since Allow resets stale entries.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if now.After(e.resetAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}
