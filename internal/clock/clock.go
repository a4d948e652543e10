// ABOUTME: Injectable clock abstraction for time-dependent components
// ABOUTME: Real implementation wraps the time package; Fake supports virtual time in tests

package clock

import "time"

// Clock provides the current time and tickers. Components that make timing
// decisions (token expiry, presence sweeps, typing timeouts) take a Clock so
// tests can advance virtual time instead of sleeping.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on a channel until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// New returns a Clock backed by the time package.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt realTicker) C() <-chan time.Time { return rt.t.C }
func (rt realTicker) Stop()               { rt.t.Stop() }
