package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven Clock for tests. Time moves only through
// Advance, which fires due timers in deadline order (ties in creation
// order) and runs their callbacks inline on the advancing goroutine.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake clock reading start.
func NewFake(start time.Time) *Fake { return &Fake{now: start} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, fn: fn, when: f.now.Add(d), seq: f.seq, pending: true}
	f.seq++
	f.timers = append(f.timers, t)
	return t
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:    f,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     f.now.Add(d),
		seq:      f.seq,
	}
	f.seq++
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer and ticker
// whose deadline falls within the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		t := f.nextTimerLocked(target)
		if t == nil {
			break
		}
		if t.when.After(f.now) {
			f.tickLocked(t.when)
		}
		t.pending = false
		fn := t.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	f.tickLocked(target)
	f.mu.Unlock()
}

// PendingTimers reports how many AfterFunc timers have not yet fired.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if t.pending {
			n++
		}
	}
	return n
}

// nextTimerLocked returns the earliest pending timer due at or before
// target, or nil.
func (f *Fake) nextTimerLocked(target time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range f.timers {
		if !t.pending || t.when.After(target) {
			continue
		}
		if best == nil || t.when.Before(best.when) || (t.when.Equal(best.when) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// tickLocked moves now to target and delivers any ticker ticks that fall
// in between. Tick delivery is non-blocking; a slow consumer misses ticks
// the way time.Ticker drops them.
func (f *Fake) tickLocked(target time.Time) {
	for _, tk := range f.tickers {
		for tk.interval > 0 && !tk.stopped && !tk.next.After(target) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
	}
	f.now = target
}

type fakeTimer struct {
	clock   *Fake
	fn      func()
	when    time.Time
	seq     int
	pending bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.pending
	t.pending = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.pending
	t.when = t.clock.now.Add(d)
	t.pending = true
	return was
}

type fakeTicker struct {
	clock    *Fake
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	seq      int
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
