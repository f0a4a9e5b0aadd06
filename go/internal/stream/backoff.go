package stream

import "time"

// Backoff is an exponential, jitter-free retry delay: each call to Next
// returns the current delay and doubles it, capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	current time.Duration
}

// NewBackoff creates a backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, current: initial}
}

// Next returns the delay to wait before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Initial
	}
	delay := min(b.current, b.Max)
	b.current = min(b.current*2, b.Max)
	return delay
}

// Current returns the delay the next call to Next will yield.
func (b *Backoff) Current() time.Duration {
	if b.current <= 0 {
		return min(b.Initial, b.Max)
	}
	return min(b.current, b.Max)
}

// Reset returns the sequence to its initial delay.
func (b *Backoff) Reset() {
	b.current = b.Initial
}
