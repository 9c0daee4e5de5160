// Package clock abstracts wall-clock time so that token expiry, approval
// timeouts and session deadlines can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the authorization core.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a stoppable one-shot timer.
	NewTimer(d time.Duration) *Timer

	// NewTicker returns a ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a one-shot timer created by a Clock.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped a pending timer.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers ticks on C at a fixed interval.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker.
func (t *Ticker) Stop() { t.stop() }
