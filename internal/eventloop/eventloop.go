// Package eventloop provides the single-goroutine cooperative scheduling the
// playback engine runs on. Everything scheduled through a Scheduler executes
// one callback at a time, so engine state needs no locks.
package eventloop

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a one-shot scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped a
	// pending timer; stopping a fired or stopped timer returns false.
	Stop() bool
}

// Scheduler is the time source and timer factory the engine depends on.
// AfterFunc and Timer.Stop must only be called from the scheduler's own
// goroutine (inside a callback, or before the loop starts).
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// DefaultQueueSize bounds the number of posted tasks waiting to run.
const DefaultQueueSize = 256

// Loop runs posted functions and timer callbacks one at a time on the
// goroutine that calls Run.
type Loop struct {
	clock clockwork.Clock
	tasks chan func()
	done  chan struct{}
}

// New creates a loop on the given clock. A nil clock means the real clock.
func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		tasks: make(chan func(), DefaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine and reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// AfterFunc schedules fn to run on the loop goroutine after d. A stopped
// timer never runs fn, even when the underlying clock already fired and the
// callback is sitting in the task queue.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.inner = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// Run executes queued tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

type loopTimer struct {
	inner   clockwork.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.inner.Stop()
	return true
}
