package twitch

import "time"

// backoff yields the delay before retry attempt k as min(base*2^k, max),
// with k starting at 1.
type backoff struct {
	base time.Duration
	max  time.Duration
	exp  uint
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

func (b *backoff) next() time.Duration {
	b.exp++
	delay := b.base << b.exp
	if delay <= 0 || delay > b.max {
		return b.max
	}
	return delay
}
