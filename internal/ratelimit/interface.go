package ratelimit

import (
	"time"
)

// Clock is the time source used by the limiters.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Limiter counts events for a single keyspace.
type Limiter interface {
	// Hit records an event for key and reports whether the key is over its limit.
	Hit(key string) bool

	Limit() int

	Window() time.Duration
}

var _ Limiter = (*FixedWindowLimiter)(nil)
