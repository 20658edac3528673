package engine

import (
	"math"
	"time"
)

// RetryPolicy bounds the sell leg retries.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	Delay       time.Duration // wait after the first failure
	Multiplier  float64       // <= 1 keeps the delay fixed
	MaxDelay    time.Duration // 0 means uncapped
}

// DefaultRetryPolicy is 10 attempts, 500ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Delay:       500 * time.Millisecond,
		Multiplier:  1,
	}
}

// Backoff returns the wait after the given failed attempt (1-based). The
// growth is clamped before converting back to a Duration so it cannot wrap.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Delay <= 0 {
		return 0
	}
	d := p.Delay
	if p.Multiplier > 1 {
		f := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1))
		if p.MaxDelay > 0 && f >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
		if f >= float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		d = time.Duration(f)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// TotalBackoff is the longest the sell leg can spend waiting between
// attempts.
func (p RetryPolicy) TotalBackoff() time.Duration {
	var total time.Duration
	for i := 1; i < p.attempts(); i++ {
		d := p.Backoff(i)
		if total > time.Duration(math.MaxInt64)-d {
			return time.Duration(math.MaxInt64)
		}
		total += d
	}
	return total
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
