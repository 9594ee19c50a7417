package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// startTestWorker runs a single worker against p until the returned stop
// func is called. A timer service's wake tasklets (and a state engine's
// shim tasklets) only ever run if something dequeues and invokes them,
// same as in production; these tests need a real worker for that.
func startTestWorker(p SchedulingPolicy) (stop func()) {
	w := newWorker(0, p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx, ctx.Done())
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestTimerService_FiresAfterDelay(t *testing.T) {
	reg := NewRegistry()
	p := NewPrioritySchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)
	ts := NewTimerService(e, p)
	defer ts.Stop()

	stop := startTestWorker(p)
	defer stop()

	// The worker runs the target as soon as the timer makes it pending, so
	// the transient (pending, timeout) status is observed through the
	// extended state the target's next invocation receives.
	var sawTimeout atomic.Bool
	rec := p.Acquire()
	rec.reset(rec.Handle(), InvalidGID, func(ex ExtendedState) State {
		if ex == ExTimeout {
			sawTimeout.Store(true)
		}
		return StateTerminated
	}, StateSuspended, PriorityNormal)
	reg.Insert(rec.Handle(), rec)
	p.AccountCreated(StateSuspended)

	ts.SetStateAfter(20*time.Millisecond, rec.Handle(), StatePending, ExTimeout, PriorityNormal)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sawTimeout.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for timer to fire")
}

func TestTimerService_CancelBeforeDeadlineLeavesStateUnchanged(t *testing.T) {
	reg := NewRegistry()
	p := NewPrioritySchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)
	ts := NewTimerService(e, p)
	defer ts.Stop()

	stop := startTestWorker(p)
	defer stop()

	rec := p.Acquire()
	rec.reset(rec.Handle(), InvalidGID, func(ExtendedState) State { return StateTerminated }, StateSuspended, PriorityNormal)
	reg.Insert(rec.Handle(), rec)
	p.AccountCreated(StateSuspended)

	th := ts.SetStateAfter(200*time.Millisecond, rec.Handle(), StatePending, ExTimeout, PriorityNormal)
	if !ts.Cancel(th) {
		t.Fatal("expected cancel before deadline to succeed")
	}

	time.Sleep(300 * time.Millisecond)
	s, _, _ := rec.Status()
	if s != StateSuspended {
		t.Fatalf("expected target to remain suspended after cancel, got %v", s)
	}
}

func TestTimerService_CancelAfterFireIsANoOp(t *testing.T) {
	reg := NewRegistry()
	p := NewPrioritySchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)
	ts := NewTimerService(e, p)
	defer ts.Stop()

	stop := startTestWorker(p)
	defer stop()

	rec := p.Acquire()
	rec.reset(rec.Handle(), InvalidGID, func(ExtendedState) State { return StateTerminated }, StateSuspended, PriorityNormal)
	reg.Insert(rec.Handle(), rec)
	p.AccountCreated(StateSuspended)

	th := ts.SetStateAfter(10*time.Millisecond, rec.Handle(), StatePending, ExTimeout, PriorityNormal)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, _, _ := rec.Status()
		if s == StatePending {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ts.Cancel(th) {
		t.Fatal("expected cancel after fire to report it was not in time")
	}
}
