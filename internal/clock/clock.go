// Package clock abstracts timer creation so timer-driven components can be
// tested deterministically.
package clock

import "time"

// Clock reports the current time and creates timers and tickers.
type Clock interface {
	Now() time.Time
	// AfterFunc runs fn after d elapses. The returned Timer can stop or
	// reschedule the call.
	AfterFunc(d time.Duration, fn func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a handle to a pending AfterFunc call.
type Timer interface {
	// Stop cancels the timer and reports whether it was still pending.
	Stop() bool
	// Reset reschedules the timer to fire after d and reports whether it
	// was still pending.
	Reset(d time.Duration) bool
}

// Ticker delivers ticks at a fixed interval until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (t realTimer) Stop() bool                 { return t.t.Stop() }
func (t realTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }
