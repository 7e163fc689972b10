package clock

import (
	"sync"
	"time"
)

// Fake is a Clock tests can advance by hand instead of waiting on
// real timers, mirroring bureau-foundation-bureau's own fake clock
// used to drive its scheduler tests deterministically.
type Fake struct {
	mtx     sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake returns a Fake whose Now() starts at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.now
}

// Sleep advances the fake clock by d instead of blocking, so a test
// driving a backoff loop proceeds without wall-clock delay.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	t := &fakeTicker{c: make(chan time.Time, 1), period: d}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the fake clock forward by d and sends one tick,
// without blocking, to every ticker that is not stopped. A ticker's
// period is not consulted: each Advance is at most one tick per
// ticker, whatever d is.
func (f *Fake) Advance(d time.Duration) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		select {
		case t.c <- f.now:
		default:
		}
	}
}

type fakeTicker struct {
	c       chan time.Time
	period  time.Duration
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped = true }
