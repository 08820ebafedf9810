package rate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter is an in-process [CounterStore].
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memoryEntry
}

// NewMemoryCounter returns an empty counter store. A nil now uses time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		now:     now,
		entries: make(map[string]*memoryEntry),
	}
}

// Incr implements [CounterStore].
func (m *MemoryCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &memoryEntry{resetAt: now.Add(window)}
		m.entries[key] = e
	}
	e.count++
	return e.count, e.resetAt.Sub(now), nil
}

// Peek implements [CounterStore].
func (m *MemoryCounter) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		return 0, 0, nil
	}
	return e.count, e.resetAt.Sub(now), nil
}

// Reset implements [CounterStore].
func (m *MemoryCounter) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops every expired window and returns how many were removed.
func (m *MemoryCounter) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
