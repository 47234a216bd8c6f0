package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter keeps the rolling windows in process. Suitable for a single
// instance and for tests.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string][]time.Time), now: time.Now}
}

// WithClock replaces the time source.
func (m *MemoryCounter) WithClock(now func() time.Time) *MemoryCounter {
	m.now = now
	return m
}

func (m *MemoryCounter) Acquire(_ context.Context, windows []Window) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, w := range windows {
		kept := prune(m.entries[w.Key], now.Add(-w.Span))
		m.entries[w.Key] = kept
		if int64(len(kept)) >= w.Cap {
			return false, nil
		}
	}
	for _, w := range windows {
		m.entries[w.Key] = append(m.entries[w.Key], now)
	}
	return true, nil
}

// prune drops timestamps at or before cutoff. Entries are appended in
// clock order so the slice stays sorted.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
