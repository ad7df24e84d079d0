package eventloop

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	f := NewFake(epoch)
	var order []string
	f.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	f.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	f.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })

	f.Advance(25 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
	if f.Pending() != 1 {
		t.Errorf("expected 1 pending timer, got %d", f.Pending())
	}

	f.Advance(5 * time.Millisecond)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("expected c to fire at its deadline, got %v", order)
	}
}

func TestFake_NowReportsDeadlineDuringCallback(t *testing.T) {
	f := NewFake(epoch)
	var seen time.Time
	f.AfterFunc(40*time.Millisecond, func() { seen = f.Now() })

	f.Advance(time.Second)

	if !seen.Equal(epoch.Add(40 * time.Millisecond)) {
		t.Errorf("expected callback to observe its deadline, got %v", seen)
	}
	if !f.Now().Equal(epoch.Add(time.Second)) {
		t.Errorf("expected clock at advance target, got %v", f.Now())
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	f := NewFake(epoch)
	fired := false
	timer := f.AfterFunc(10*time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Error("expected second Stop to report false")
	}
	f.Advance(time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if f.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", f.Pending())
	}
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	f := NewFake(epoch)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		f.AfterFunc(16*time.Millisecond, tick)
	}
	f.AfterFunc(16*time.Millisecond, tick)

	f.Advance(160 * time.Millisecond)
	if ticks != 10 {
		t.Errorf("expected 10 ticks, got %d", ticks)
	}
}

func TestFake_ZeroDelayFiresOnNextAdvance(t *testing.T) {
	f := NewFake(epoch)
	fired := false
	f.AfterFunc(0, func() { fired = true })
	if fired {
		t.Fatal("timer must not fire synchronously")
	}
	f.Advance(0)
	if !fired {
		t.Error("expected zero-delay timer to fire on Advance(0)")
	}
}
