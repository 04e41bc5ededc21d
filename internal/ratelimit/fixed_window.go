package ratelimit

import (
	"sync"
	"time"
)

type FixedWindowConfig struct {
	Limit    int
	Window   time.Duration
	Capacity int // max tracked keys, 0 for unbounded
	Clock    Clock
}

type windowEntry struct {
	count       int
	windowStart time.Time
}

// FixedWindowLimiter counts hits per key in fixed windows that start at the
// first hit after the previous window elapsed. A burst straddling a window
// boundary can pass up to twice the limit.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	entries store[windowEntry]
	limit   int
	window  time.Duration
	clock   Clock
}

func NewFixedWindow(cfg FixedWindowConfig) *FixedWindowLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	return &FixedWindowLimiter{
		entries: newStore[windowEntry](cfg.Capacity),
		limit:   cfg.Limit,
		window:  cfg.Window,
		clock:   cfg.Clock,
	}
}

// Hit records one event for key and reports whether the key is limited.
// An empty key is never limited. Rejected hits still count.
func (f *FixedWindowLimiter) Hit(key string) bool {
	if key == "" {
		return false
	}
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries.get(key)
	if !ok || now.Sub(entry.windowStart) >= f.window {
		f.entries.set(key, windowEntry{count: 1, windowStart: now})
		return false
	}

	entry.count++
	f.entries.set(key, entry)

	return entry.count > f.limit
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

// Len returns the number of tracked keys.
func (f *FixedWindowLimiter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries.len()
}
