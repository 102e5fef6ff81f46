// Package testutil holds polling helpers for asynchronous tests.
package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

type waitOptions struct {
	timeout  time.Duration
	interval time.Duration
}

// WaitOption tunes a wait.
type WaitOption func(*waitOptions)

// WithTimeout bounds the wait (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// WithInterval sets the polling period (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.interval = d }
}

// WaitFor polls condition until it holds or the timeout passes, and reports
// whether it held.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := waitOptions{timeout: 10 * time.Second, interval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	if condition() {
		return true
	}
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return condition()
		case <-ticker.C:
			if condition() {
				return true
			}
		}
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount fails the test unless counter reaches at least target.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	ok := WaitFor(tb, func() bool { return counter.Load() >= target }, opts...)
	if !ok {
		tb.Fatalf("timed out waiting for count %d (current: %d)", target, counter.Load())
	}
}
