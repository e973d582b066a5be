package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter keeps one window per identity in process memory.
// A window opens at the identity's first request and lasts for the window
// duration; expired windows are swept lazily.
type MemoryLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, identity string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	w, ok := m.windows[identity]
	if !ok || now.Sub(w.start) >= m.period {
		w = &window{start: now}
		m.windows[identity] = w
	}

	decision := Decision{
		Limit:      m.limit,
		ResetAfter: w.start.Add(m.period).Sub(now),
	}

	if w.count >= m.limit {
		return decision, nil
	}

	w.count++
	decision.Allowed = true
	decision.Remaining = m.limit - w.count
	return decision, nil
}

// sweep drops expired windows at most once per period
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.period {
		return
	}
	m.lastSweep = now
	for id, w := range m.windows {
		if now.Sub(w.start) >= m.period {
			delete(m.windows, id)
		}
	}
}

// tracked returns the number of live windows
func (m *MemoryLimiter) tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
