package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	var order []string
	f.AfterFunc(300*time.Millisecond, func() { order = append(order, "late") })
	f.AfterFunc(100*time.Millisecond, func() { order = append(order, "early") })
	f.AfterFunc(200*time.Millisecond, func() { order = append(order, "mid") })

	f.Advance(250 * time.Millisecond)

	want := []string{"early", "mid"}
	if len(order) != len(want) {
		t.Fatalf("fired %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("fired %v, want %v", order, want)
		}
	}
	if got := f.PendingTimers(); got != 1 {
		t.Errorf("PendingTimers = %d, want 1", got)
	}

	f.Advance(50 * time.Millisecond)
	if len(order) != 3 || order[2] != "late" {
		t.Fatalf("after second advance fired %v", order)
	}
}

func TestFakeTimerStopAndReset(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	fired := 0
	tm := f.AfterFunc(time.Second, func() { fired++ })

	if !tm.Stop() {
		t.Fatal("Stop on pending timer = false, want true")
	}
	f.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatalf("stopped timer fired %d times", fired)
	}

	if tm.Reset(time.Second) {
		t.Fatal("Reset on stopped timer = true, want false")
	}
	f.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("reset timer fired %d times, want 1", fired)
	}
}

func TestFakeTimerCallbackMaySchedule(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	fired := 0
	f.AfterFunc(time.Second, func() {
		f.AfterFunc(time.Second, func() { fired++ })
	})

	f.Advance(time.Second)
	if fired != 0 {
		t.Fatal("nested timer fired early")
	}
	f.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("nested timer fired %d times, want 1", fired)
	}
}

func TestFakeTicker(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(100 * time.Millisecond)

	f.Advance(100 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("no tick after one interval")
	}

	// Ticks are dropped, not queued, when nobody is reading.
	f.Advance(500 * time.Millisecond)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("ticker queued more than one tick")
	default:
	}

	tk.Stop()
	f.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("tick after Stop")
	default:
	}
}
