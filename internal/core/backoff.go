package core

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls retry scheduling for transient job failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultRetryPolicy mirrors the production configuration: up to 3 retries,
// exponential backoff starting at 5 minutes, capped at 30 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  300 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   1800 * time.Second,
		Jitter:     true,
	}
}

// Backoff returns the delay before retry attempt n (1-based).
//
// The envelope is BaseDelay * Multiplier^(n-1), capped at MaxDelay. Jitter is
// additive in [0, BaseDelay/2) and the sum is clamped to MaxDelay, so the
// sequence of delays is non-decreasing across attempts and never exceeds the
// cap.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.BaseDelay
	if base <= 0 {
		base = 300 * time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	cap := p.MaxDelay
	if cap <= 0 {
		cap = 1800 * time.Second
	}

	delay := time.Duration(float64(base) * math.Pow(mult, float64(attempt-1)))
	if delay > cap || delay <= 0 {
		delay = cap
	}

	if p.Jitter {
		delay += time.Duration(rand.Int63n(int64(base / 2)))
		if delay > cap {
			delay = cap
		}
	}

	return delay
}
