package service

import (
	"fmt"

	"github.com/ossettyres/tyre-api/internal/ratelimit"
)

// ValidationError is returned for input the caller must fix.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// CooldownError is returned when a lookup arrives inside a cooldown window.
type CooldownError struct {
	Decision ratelimit.CooldownDecision
	Policy   string
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("Rate limit hit (%s). Try again in ~%ds.", e.Decision.Rule.Label(), e.Decision.RetryAfterSeconds())
}

// RateLimitError is returned when an enquiry exceeds a rate window.
type RateLimitError struct {
	Scope  string // "ip" or "email"
	Limit  int
	Window int // seconds
}

func (e *RateLimitError) Error() string {
	return "Too many requests. Please try again shortly."
}
