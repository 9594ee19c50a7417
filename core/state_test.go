package core

import "testing"

func TestStateEngine_SetStateUnknownHandle(t *testing.T) {
	reg := NewRegistry()
	p := NewFIFOSchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)

	prev, err := e.SetState(999, StatePending, ExSignaled, PriorityNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != StateUnknown {
		t.Fatalf("expected unknown, got %v", prev)
	}
}

func TestStateEngine_SetStatePendingEnqueues(t *testing.T) {
	reg := NewRegistry()
	p := NewFIFOSchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)

	rec := p.Acquire()
	rec.reset(rec.Handle(), InvalidGID, func(ExtendedState) State { return StateTerminated }, StateSuspended, PriorityNormal)
	reg.Insert(rec.Handle(), rec)

	prev, err := e.SetState(rec.Handle(), StatePending, ExSignaled, PriorityNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != StateSuspended {
		t.Fatalf("expected previous state suspended, got %v", prev)
	}

	stopCh := make(chan struct{})
	close(stopCh)
	got, ok := p.Dequeue(0, stopCh)
	if !ok || got != rec {
		t.Fatal("expected the record to have been enqueued by SetState")
	}
}

func TestStateEngine_IllegalTransitionFromTerminated(t *testing.T) {
	reg := NewRegistry()
	p := NewFIFOSchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)

	rec := p.Acquire()
	rec.reset(rec.Handle(), InvalidGID, nil, StateSuspended, PriorityNormal)
	reg.Insert(rec.Handle(), rec)
	rec.SetStatusAtomic(StateTerminated, ExSignaled, PriorityNormal)

	prev, err := e.SetState(rec.Handle(), StatePending, ExSignaled, PriorityNormal)
	if err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if prev != StateTerminated {
		t.Fatalf("expected previous state terminated, got %v", prev)
	}
}

func TestStateEngine_ActiveDefersViaShim(t *testing.T) {
	reg := NewRegistry()
	p := NewPrioritySchedulingPolicy(reg, 1)
	e := NewStateEngine(reg, p)

	rec := p.Acquire()
	rec.reset(rec.Handle(), InvalidGID, nil, StatePending, PriorityNormal)
	reg.Insert(rec.Handle(), rec)
	rec.SetStatusAtomic(StateActive, ExSignaled, PriorityNormal)

	prev, err := e.SetState(rec.Handle(), StateSuspended, ExSignaled, PriorityNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != StateActive {
		t.Fatalf("expected previous state active (deferred), got %v", prev)
	}

	// The record itself must not have been mutated in place.
	s, _, _ := rec.Status()
	if s != StateActive {
		t.Fatalf("expected record to remain active until the shim runs, got %v", s)
	}

	// A shim tasklet must have been queued at boost priority.
	stopCh := make(chan struct{})
	close(stopCh)
	shim, ok := p.Dequeue(0, stopCh)
	if !ok {
		t.Fatal("expected a shim tasklet to have been enqueued")
	}
	if shim == rec {
		t.Fatal("the shim must be a distinct tasklet from the target")
	}

	// Running the shim retries the mutation now that the target is no
	// longer active.
	rec.SetStatusAtomic(StatePending, ExSignaled, PriorityNormal)
	next := shim.Invoke(ExSignaled)
	if next != StateTerminated {
		t.Fatalf("expected the shim to terminate itself, got %v", next)
	}
	s, _, _ = rec.Status()
	if s != StateSuspended {
		t.Fatalf("expected the shim's retry to have suspended the target, got %v", s)
	}
}
