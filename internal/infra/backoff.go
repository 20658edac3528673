package infra

import (
	"time"
)

const (
	// Reconnect backoff defaults
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 60 * time.Second
)

// Backoff computes exponential reconnect delays: Base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is 1s doubling up to 60s.
var DefaultBackoff = Backoff{Base: defaultBackoffBase, Max: defaultBackoffMax}

// Delay returns the wait before the given attempt (0-based).
// A negative attempt returns Base.
func (b Backoff) Delay(attempt int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = defaultBackoffBase
	}
	if limit <= 0 {
		limit = defaultBackoffMax
	}
	if attempt < 0 {
		return base
	}

	// 2^30 seconds is far past any cap; avoid shifting into overflow.
	if attempt > 30 {
		return limit
	}

	d := base * time.Duration(1<<attempt)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}
