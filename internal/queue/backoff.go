package queue

import "time"

// Backoff computes retry delays. The delay doubles with every attempt
// and never exceeds the cap, so retries spread out without growing
// unbounded.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// NextDelay returns the wait before the given attempt may run again.
// Attempts are 1-based; anything below 1 is treated as the first
// attempt. The function is pure, scheduling against a clock is the
// caller's concern.
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && delay > b.Cap {
		return b.Cap
	}
	return delay
}
