// Package testutil provides polling helpers for tests that assert on
// asynchronous state.
package testutil

import (
	"testing"
	"time"
)

// WaitOptions configures the polling loop.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout overrides the 30s default deadline.
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval overrides the 10ms default polling interval.
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

// WaitFor polls condition until it holds or the deadline passes, and
// reports whether it held. The condition runs once more right at the
// deadline so a slow poll interval cannot miss a late transition.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := WaitOptions{Timeout: 30 * time.Second, Interval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	deadline := time.After(o.Timeout)

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline:
			return condition()
		case <-ticker.C:
		}
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("condition not met before deadline")
	}
}
