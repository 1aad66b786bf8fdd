package wsclient

import "time"

// Backoff is the reconnect schedule: base * 2^attempt capped at Max, with
// a hard attempt limit after which the client stays in degraded mode.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5}
}

// Delay returns the wait before the given reconnect attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether the attempt budget is spent.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
