package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Rule identifies which cooldown key rejected a request.
type Rule string

const (
	RuleNone   Rule = ""
	RuleCoarse Rule = "coarse"
	RuleFine   Rule = "fine"
)

// Label is the human readable name of the key a rule guards.
func (r Rule) Label() string {
	switch r {
	case RuleCoarse:
		return "IP"
	case RuleFine:
		return "IP+VRM"
	default:
		return ""
	}
}

type CooldownConfig struct {
	CoarseWindow time.Duration // per client, default 2s
	FineWindow   time.Duration // per client and resource, default 10s
	Capacity     int           // max tracked keys, 0 for unbounded
	Clock        Clock
}

// CooldownDecision is the outcome of a cooldown check.
type CooldownDecision struct {
	Blocked    bool
	RetryAfter time.Duration
	Rule       Rule
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds.
func (d CooldownDecision) RetryAfterSeconds() int {
	if !d.Blocked {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// CooldownTracker rejects a request when an equivalent one was accepted too
// recently. Timestamps only move on accepted requests, so retrying while
// blocked does not extend the wait.
type CooldownTracker struct {
	mu       sync.Mutex
	lastSeen store[time.Time]
	coarse   time.Duration
	fine     time.Duration
	clock    Clock
}

func NewCooldownTracker(cfg CooldownConfig) *CooldownTracker {
	if cfg.CoarseWindow <= 0 {
		cfg.CoarseWindow = 2 * time.Second
	}
	if cfg.FineWindow <= 0 {
		cfg.FineWindow = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	return &CooldownTracker{
		lastSeen: newStore[time.Time](cfg.Capacity),
		coarse:   cfg.CoarseWindow,
		fine:     cfg.FineWindow,
		clock:    cfg.Clock,
	}
}

func CoarseKey(client string) string {
	return "ip:" + client
}

func FineKey(client, resource string) string {
	return "ipvrm:" + client + ":" + resource
}

// Check evaluates the fine key first, then the coarse key, and records the
// current time against both only when neither is cooling down.
func (t *CooldownTracker) Check(client, resource string) CooldownDecision {
	now := t.clock.Now()
	fineKey := FineKey(client, resource)
	coarseKey := CoarseKey(client)

	t.mu.Lock()
	defer t.mu.Unlock()

	if remaining, hot := t.remaining(fineKey, t.fine, now); hot {
		return CooldownDecision{Blocked: true, RetryAfter: remaining, Rule: RuleFine}
	}
	if remaining, hot := t.remaining(coarseKey, t.coarse, now); hot {
		return CooldownDecision{Blocked: true, RetryAfter: remaining, Rule: RuleCoarse}
	}

	t.lastSeen.set(fineKey, now)
	t.lastSeen.set(coarseKey, now)

	return CooldownDecision{}
}

func (t *CooldownTracker) remaining(key string, window time.Duration, now time.Time) (time.Duration, bool) {
	last, ok := t.lastSeen.get(key)
	if !ok {
		return 0, false
	}

	elapsed := now.Sub(last)
	if elapsed < window {
		return window - elapsed, true
	}
	return 0, false
}

// Policy describes the configured windows, e.g. "IP:2s; IP+VRM:10s".
func (t *CooldownTracker) Policy() string {
	return fmt.Sprintf("%s:%s; %s:%s", RuleCoarse.Label(), t.coarse, RuleFine.Label(), t.fine)
}

// Len returns the number of tracked keys.
func (t *CooldownTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen.len()
}
