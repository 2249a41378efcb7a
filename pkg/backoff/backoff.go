// Package backoff computes capped exponential retry delays.
package backoff

import "time"

// Policy describes the delay curve. Zero values mean 100ms initial and a
// 5s cap.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the given attempt. Attempt 1 waits the
// initial delay; each further attempt doubles it up to the cap.
func (p Policy) Delay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	cap := p.Max
	if cap <= 0 {
		cap = 5 * time.Second
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Exponential returns the delay for attempt under the zero-value Policy.
func Exponential(attempt int) time.Duration {
	return Policy{}.Delay(attempt)
}
