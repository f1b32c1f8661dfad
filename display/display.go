// Package display arbitrates TPA display requests into the single layout
// the glasses show per view.
package display

import (
	"strings"
	"sync"
	"time"

	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// SendFunc forwards the effective layout to the glasses channel.
type SendFunc func(ev wire.DisplayEvent)

// request is one package's pending display request for a view.
type request struct {
	seq      uint64
	pkg      string
	layout   wire.Layout
	duration time.Duration
	expires  time.Time // zero when the request has no duration
	timer    clock.Timer
}

// Arbiter decides, per view, which display request the glasses render.
// The most recent non-expired request wins. While any package is booting
// the main view is reserved for the boot screen and main-view requests
// queue behind it.
type Arbiter struct {
	clk  clock.Clock
	send SendFunc

	mu      sync.Mutex
	seq     uint64
	views   map[string]map[string]*request // view -> package -> request
	shown   map[string]uint64              // view -> seq forwarded, 0 = cleared
	booting []string
	closed  bool
}

func NewArbiter(clk clock.Clock, send SendFunc) *Arbiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Arbiter{
		clk:   clk,
		send:  send,
		views: make(map[string]map[string]*request),
		shown: make(map[string]uint64),
	}
}

// Submit records a display request and forwards the new effective layout
// if it changed. A duration of zero means the request holds until
// replaced or withdrawn. A text_wall with empty text withdraws the
// package's request for the view.
func (a *Arbiter) Submit(pkg, view string, layout wire.Layout, duration time.Duration) {
	if view == "" {
		view = wire.ViewMain
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if layout.LayoutType == wire.LayoutTextWall && layout.Text == "" {
		a.withdrawLocked(view, pkg)
		a.redrawLocked(view, false)
		return
	}

	a.seq++
	req := &request{seq: a.seq, pkg: pkg, layout: layout, duration: duration}
	if duration > 0 {
		req.expires = a.clk.Now().Add(duration)
		req.timer = a.clk.AfterFunc(duration, func() { a.expire(view, pkg, req.seq) })
	}

	reqs := a.views[view]
	if reqs == nil {
		reqs = make(map[string]*request)
		a.views[view] = reqs
	}
	if prev := reqs[pkg]; prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	reqs[pkg] = req

	a.redrawLocked(view, false)
}

// expire removes a timed-out request and recomputes the view. The seq
// guard keeps a stale timer from withdrawing a newer request.
func (a *Arbiter) expire(view, pkg string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	req := a.views[view][pkg]
	if req == nil || req.seq != seq {
		return
	}
	delete(a.views[view], pkg)
	a.redrawLocked(view, false)
}

// ShowBoot reserves the main view for the boot screen and adds pkg to the
// loading listing.
func (a *Arbiter) ShowBoot(pkg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, p := range a.booting {
		if p == pkg {
			a.sendBootLocked()
			return
		}
	}
	a.booting = append(a.booting, pkg)
	a.sendBootLocked()
}

// ClearBoot removes pkg from the boot listing. When the last booting
// package clears, the queued main-view state is shown again.
func (a *Arbiter) ClearBoot(pkg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	found := false
	for i, p := range a.booting {
		if p == pkg {
			a.booting = append(a.booting[:i], a.booting[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	if len(a.booting) > 0 {
		a.sendBootLocked()
		return
	}
	a.redrawLocked(wire.ViewMain, true)
}

// RemovePackage withdraws every request of a stopped package and
// recomputes the affected views.
func (a *Arbiter) RemovePackage(pkg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for i, p := range a.booting {
		if p == pkg {
			a.booting = append(a.booting[:i], a.booting[i+1:]...)
			if len(a.booting) > 0 {
				a.sendBootLocked()
			} else {
				a.redrawLocked(wire.ViewMain, true)
			}
			break
		}
	}
	for view := range a.views {
		if a.withdrawLocked(view, pkg) {
			a.redrawLocked(view, false)
		}
	}
}

// Close stops every pending expiry timer. Further calls are no-ops.
func (a *Arbiter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, reqs := range a.views {
		for _, req := range reqs {
			if req.timer != nil {
				req.timer.Stop()
			}
		}
	}
}

// withdrawLocked drops pkg's request for view and reports whether one
// existed.
func (a *Arbiter) withdrawLocked(view, pkg string) bool {
	req := a.views[view][pkg]
	if req == nil {
		return false
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	delete(a.views[view], pkg)
	return true
}

// redrawLocked forwards the view's effective layout when it changed, or a
// clear when the last request went away. force redraws even an unchanged
// winner, used when the boot screen had overwritten the view.
func (a *Arbiter) redrawLocked(view string, force bool) {
	if view == wire.ViewMain && len(a.booting) > 0 {
		return
	}
	now := a.clk.Now()

	var eff *request
	for _, req := range a.views[view] {
		if !req.expires.IsZero() && !now.Before(req.expires) {
			continue
		}
		if eff == nil || req.seq > eff.seq {
			eff = req
		}
	}

	switch {
	case eff == nil:
		if a.shown[view] == 0 && !force {
			return
		}
		a.shown[view] = 0
		a.send(wire.DisplayEvent{
			View:      view,
			Layout:    wire.Layout{LayoutType: wire.LayoutTextWall},
			Timestamp: now.UnixMilli(),
		})
	case eff.seq != a.shown[view] || force:
		a.shown[view] = eff.seq
		a.send(wire.DisplayEvent{
			PackageName: eff.pkg,
			View:        view,
			Layout:      eff.layout,
			DurationMs:  int64(eff.duration / time.Millisecond),
			Timestamp:   now.UnixMilli(),
		})
	}
}

// sendBootLocked renders the boot screen listing every loading package.
func (a *Arbiter) sendBootLocked() {
	a.shown[wire.ViewMain] = 0
	a.send(wire.DisplayEvent{
		View: wire.ViewMain,
		Layout: wire.Layout{
			LayoutType: wire.LayoutReferenceCard,
			Title:      "Starting App",
			Text:       strings.Join(a.booting, "\n"),
		},
		Timestamp: a.clk.Now().UnixMilli(),
	})
}
