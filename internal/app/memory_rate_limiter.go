package app

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

// MemoryRateLimiter is a single-process fixed-window limiter used when Redis
// is not configured. Counts are not shared between replicas.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimiter creates an empty limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: make(map[string]*window), now: time.Now}
}

// ConsumeRateLimit increments the subject's counter for the current window.
func (m *MemoryRateLimiter) ConsumeRateLimit(
	_ context.Context,
	scope string,
	subject string,
	limit int,
	period time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if limit <= 0 || period <= 0 {
		return 0, 0, nil
	}
	key := strings.TrimSpace(scope) + ":" + strings.TrimSpace(subject)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(period)}
		m.windows[key] = w
	}
	w.count++

	retryAfter := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return w.count, retryAfter, nil
}

// Prune drops expired windows so idle subjects do not accumulate.
func (m *MemoryRateLimiter) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}
