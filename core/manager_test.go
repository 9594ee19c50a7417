package core

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_RunIsOneShot(t *testing.T) {
	mgr := NewPriorityManager(2, nil)
	if err := mgr.Run(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	if err := mgr.Run(2); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState on second Run, got %v", err)
	}
}

func TestManager_RegisterThreadBadParameter(t *testing.T) {
	mgr := NewFIFOManager(1, nil)
	if err := mgr.Run(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	_, err := mgr.RegisterThread(func(ExtendedState) State { return StateTerminated }, StateTerminated, PriorityNormal, true)
	if err != ErrBadParameter {
		t.Fatalf("expected ErrBadParameter, got %v", err)
	}
}

func TestManager_UnknownHandleReadsAreBenign(t *testing.T) {
	mgr := NewFIFOManager(1, nil)
	if mgr.GetState(999) != StateUnknown {
		t.Fatal("expected unknown state for unknown handle")
	}
	if mgr.GetPhase(999) != ^uint64(0) {
		t.Fatal("expected ^0 phase for unknown handle")
	}
	if mgr.GetDescription(999) != "<unknown>" {
		t.Fatal("expected <unknown> description for unknown handle")
	}
	if mgr.GetThreadGID(999).Valid() {
		t.Fatal("expected invalid GID for unknown handle")
	}
}

// S3: set_state while a tasklet is actively running returns `active`, the
// result of deferring the change through a shim tasklet. Whether the
// tasklet later observes the deferred transition is not checked here.
func TestManager_S3_SetStateOnActiveDefersViaShim(t *testing.T) {
	mgr := NewPriorityManager(2, nil)
	if err := mgr.Run(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	entered := make(chan struct{})
	release := make(chan struct{})
	observedSuspend := make(chan struct{}, 1)

	h, err := mgr.RegisterThread(func(ex ExtendedState) State {
		if ex == ExTimeout {
			return StateSuspended
		}
		close(entered)
		<-release
		return StatePending
	}, StatePending, PriorityNormal, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-entered

	deadline := time.Now().Add(time.Second)
	var prev State
	for time.Now().Before(deadline) {
		prev, err = mgr.SetState(h, StateSuspended, ExSignaled, PriorityNormal)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if prev == StateActive {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if prev != StateActive {
		t.Fatalf("expected set_state on a running tasklet to observe active, got %v", prev)
	}
	close(release)
	close(observedSuspend)
}

// S4: a timed transition fires after its deadline and the target observes
// the requested extended state on its next invocation.
func TestManager_S4_TimedTransition(t *testing.T) {
	mgr := NewPriorityManager(2, nil)
	if err := mgr.Run(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	var sawTimeout int32
	h, err := mgr.RegisterThread(func(ex ExtendedState) State {
		if ex == ExTimeout {
			atomic.StoreInt32(&sawTimeout, 1)
		}
		return StateTerminated
	}, StateSuspended, PriorityNormal, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mgr.SetStateAfter(50*time.Millisecond, h, StatePending, ExTimeout, PriorityNormal)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mgr.CleanupTerminated()
		if atomic.LoadInt32(&sawTimeout) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("tasklet never observed the timed extended state")
}

// S5: registering many tasklets that all terminate immediately drains
// cleanly and the executed counters add up.
func TestManager_S5_BulkRegistrationDrains(t *testing.T) {
	const n = 2000
	mgr := NewPriorityManager(4, nil)
	if err := mgr.Run(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	for i := 0; i < n; i++ {
		if _, err := mgr.RegisterThread(func(ExtendedState) State {
			return StateTerminated
		}, StatePending, PriorityNormal, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		mgr.CleanupTerminated()
		var executed uint64
		for w := 0; w < mgr.GetNumOSThreads(); w++ {
			executed += mgr.GetExecutedThreads(w)
		}
		if executed >= n && mgr.GetThreadCount(StatePending) == 0 && mgr.GetThreadCount(StateRunning) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("bulk registration never drained")
}

func TestManager_RegisterWorkIsLazilyReified(t *testing.T) {
	mgr := NewFIFOManager(1, nil)
	if err := mgr.Run(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	done := make(chan struct{})
	if err := mgr.RegisterWork(func(ExtendedState) State {
		close(done)
		return StateTerminated
	}, StatePending, PriorityNormal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("staged work was never reified and run")
	}
}

func TestManager_AbortAllSuspendedThreads(t *testing.T) {
	mgr := NewPriorityManager(2, nil)
	if err := mgr.Run(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mgr.Stop(true)

	observed := make(chan ExtendedState, 1)
	h, err := mgr.RegisterThread(func(ex ExtendedState) State {
		if ex == ExAbort {
			select {
			case observed <- ex:
			default:
			}
			return StateTerminated
		}
		return StateSuspended
	}, StateSuspended, PriorityNormal, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = h

	deadline := time.Now().Add(time.Second)
	for mgr.GetThreadCount(StateSuspended) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	mgr.AbortAllSuspendedThreads()

	select {
	case ex := <-observed:
		if ex != ExAbort {
			t.Fatalf("expected abort, got %v", ex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suspended tasklet never observed abort")
	}
}
