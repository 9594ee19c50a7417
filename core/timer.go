package core

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// TimerHandle identifies an armed timed transition, returned by SetStateAt
// so callers can Cancel it.
type TimerHandle uint64

// stateSetter is the slice of the state-transition engine (C5) the timer
// service needs: performing the real set_state when a timer fires.
type stateSetter interface {
	SetState(id Handle, newState State, newEx ExtendedState, priority Priority) (State, error)
}

// timerEntry is one armed timed transition. triggered is CAS'd exactly
// once by whichever of {timer fire, Cancel} observes it first; shouldFire
// records which of those two outcomes won, so the wake tasklet's single
// later invocation knows whether to actually perform the transition.
type timerEntry struct {
	id       TimerHandle
	deadline time.Time
	index    int

	triggered  atomic.Bool
	shouldFire atomic.Bool

	wake *Tasklet

	target   Handle
	newState State
	newEx    ExtendedState
	priority Priority
}

func (e *timerEntry) trigger(fire bool) bool {
	if !e.triggered.CompareAndSwap(false, true) {
		return false
	}
	e.shouldFire.Store(fire)
	return true
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerService (C6) accepts (deadline, handle, target-state) and fires the
// state transition asynchronously, backed by a single background goroutine
// driven by a min-heap of deadlines, generalized from the teacher's
// DelayManager. Arm/cancel race-freedom comes from the triggered-flag
// handshake on each timerEntry (§4.6 of the design this implements).
type TimerService struct {
	engine stateSetter
	policy SchedulingPolicy

	mu      sync.Mutex
	pq      timerHeap
	entries map[TimerHandle]*timerEntry
	nextID  uint64

	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTimerService(engine stateSetter, policy SchedulingPolicy) *TimerService {
	ctx, cancel := context.WithCancel(context.Background())
	ts := &TimerService{
		engine:  engine,
		policy:  policy,
		entries: make(map[TimerHandle]*timerEntry),
		wakeup:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	heap.Init(&ts.pq)
	go ts.loop()
	return ts
}

// SetStateAt arms a timed transition: at deadline, target is transitioned
// via the engine's SetState as if the caller had invoked it directly with
// (newState, newEx, priority). Absolute and relative deadlines share this
// entry point; SetStateAfter converts relative durations at call time.
func (ts *TimerService) SetStateAt(deadline time.Time, target Handle, newState State, newEx ExtendedState, priority Priority) TimerHandle {
	wake := ts.policy.Acquire()

	e := &timerEntry{
		target:   target,
		newState: newState,
		newEx:    newEx,
		priority: priority,
		wake:     wake,
	}

	ts.mu.Lock()
	ts.nextID++
	e.id = TimerHandle(ts.nextID)
	e.deadline = deadline
	ts.entries[e.id] = e
	ts.mu.Unlock()

	wake.reset(wake.Handle(), InvalidGID, ts.wakeFn(e), StatePending, PriorityBoost)
	ts.policy.AccountCreated(StatePending)

	ts.mu.Lock()
	heap.Push(&ts.pq, e)
	isEarliest := e.index == 0
	ts.mu.Unlock()

	ts.policy.Enqueue(wake, PriorityBoost, -1)

	if isEarliest {
		select {
		case ts.wakeup <- struct{}{}:
		default:
		}
	}
	return e.id
}

// SetStateAfter is SetStateAt with a relative deadline.
func (ts *TimerService) SetStateAfter(delay time.Duration, target Handle, newState State, newEx ExtendedState, priority Priority) TimerHandle {
	return ts.SetStateAt(time.Now().Add(delay), target, newState, newEx, priority)
}

// wakeFn is the wake tasklet's function: it parks (suspended) until it
// observes triggered, then performs the real transition (or not, if
// canceled) and terminates. It never runs more than twice: once to enqueue
// initially (immediately parking), once when the timer fires or is
// canceled.
func (ts *TimerService) wakeFn(e *timerEntry) Function {
	return func(ex ExtendedState) State {
		if !e.triggered.Load() {
			return StateSuspended
		}
		if e.shouldFire.Load() {
			_, _ = ts.engine.SetState(e.target, e.newState, e.newEx, e.priority)
		}
		return StateTerminated
	}
}

// Cancel cancels a pending timer. If the timer has not yet fired, the
// target is left in its prior state and Cancel returns true. If it has
// already fired (or is firing concurrently), Cancel returns false and the
// transition has taken or will take effect.
func (ts *TimerService) Cancel(th TimerHandle) bool {
	ts.mu.Lock()
	e, ok := ts.entries[th]
	if ok && e.index >= 0 {
		heap.Remove(&ts.pq, e.index)
	}
	delete(ts.entries, th)
	ts.mu.Unlock()

	if !ok {
		return false
	}
	return ts.fire(e, false)
}

// fire performs the triggered-flag handshake and, if this call wins it,
// wakes the wake tasklet by CAS-ing it pending and re-enqueueing it.
//
// The wake tasklet's own invocation (wakeFn) reads the triggered flag and,
// if it is not yet set, yields suspended to park. That read can race this
// call: trigger() above may flip triggered to true while the wake tasklet
// is still mid-invocation (status running), just before it returns
// suspended. If fire bailed out on seeing running, the wake would park
// forever with triggered already true and nobody left to re-enqueue it —
// a lost wakeup. So fire spins while the wake is running, waiting for it
// to actually park before acting; the window is a handful of instructions
// on the wake tasklet's side, never an unbounded wait.
func (ts *TimerService) fire(e *timerEntry, doAction bool) bool {
	won := e.trigger(doAction)
	if !won {
		return false
	}
	for {
		s, ex, priority := e.wake.Status()
		switch s {
		case StateSuspended:
			if e.wake.CompareAndSwapStatus(s, ex, priority, StatePending, ExSignaled, PriorityBoost) {
				ts.policy.AccountTransition(StateSuspended, StatePending)
				ts.policy.Enqueue(e.wake, PriorityBoost, -1)
				return won
			}
		case StateRunning:
			runtime.Gosched()
		default:
			// Not parked yet (racing the first enqueue, in which case its
			// own invocation will observe triggered directly) or already
			// handled (it observed triggered and terminated itself);
			// either way there is nothing left to re-enqueue here. This
			// call still won the race, regardless of doAction.
			return won
		}
	}
}

func (ts *TimerService) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		wait := ts.nextWait()
		if wait <= 0 {
			ts.fireExpired()
			continue
		}
		timer.Reset(wait)
		select {
		case <-ts.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			ts.fireExpired()
		case <-ts.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

func (ts *TimerService) nextWait() time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.pq) == 0 {
		return 1000 * time.Hour
	}
	return time.Until(ts.pq[0].deadline)
}

func (ts *TimerService) fireExpired() {
	now := time.Now()
	var expired []*timerEntry
	ts.mu.Lock()
	for len(ts.pq) > 0 && !ts.pq[0].deadline.After(now) {
		e := heap.Pop(&ts.pq).(*timerEntry)
		delete(ts.entries, e.id)
		expired = append(expired, e)
	}
	ts.mu.Unlock()

	for _, e := range expired {
		ts.fire(e, true)
	}
}

// Stop halts the background goroutine. Armed timers that have not yet
// fired are abandoned without performing their transitions.
func (ts *TimerService) Stop() {
	ts.cancel()
}

// PendingCount returns the number of armed, not-yet-fired timers.
func (ts *TimerService) PendingCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pq)
}
