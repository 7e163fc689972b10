// Package clock abstracts time so the Idle Reaper's tick loop and the
// Lifecycle Reactor's readiness backoff can be driven deterministically
// in tests, the way bureau-foundation-bureau's lib/clock lets its
// scheduler and watchdog tests control time without real sleeps.
// Production code injects Real(); tests inject a Fake.
package clock

import "time"

// Clock is the slice of time operations this module's background
// loops need: reading the current time, sleeping, and ticking.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker's public surface so Fake can substitute
// a channel it controls instead of a real timer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
