package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// workerIdentityKeyType is the context.WithValue key a worker installs on
// its loop's context so that code holding that context can recover "which
// worker am I?" in O(1), generalized from the teacher's
// taskRunnerKey/GetCurrentTaskRunner idiom in core/task.go. A tasklet's
// Function receives no context, so a tasklet's own function cannot reach
// this identity.
type workerIdentityKeyType struct{}

var workerIdentityKey workerIdentityKeyType

// WorkerIdentity is the worker-local context installed for the duration of
// a worker's loop.
type WorkerIdentity struct {
	Index int
}

// WorkerFromContext recovers the calling worker's identity, or nil if ctx
// was not derived from a worker's loop (e.g. a call from outside the pool).
func WorkerFromContext(ctx context.Context) *WorkerIdentity {
	if v := ctx.Value(workerIdentityKey); v != nil {
		return v.(*WorkerIdentity)
	}
	return nil
}

// worker runs the execution loop of §4.4: dequeue, CAS pending->running,
// invoke, interpret the yielded next-state, maintain per-worker counters.
// Generalized from the teacher's GoroutineThreadPool.workerLoop.
type worker struct {
	index  int
	policy SchedulingPolicy
	notify NotificationPolicy

	// reify, if set, is tried before blocking in Dequeue: it reifies one
	// staged (register_work) entry into a live record, amortizing
	// allocation by deferring it until a worker is actually free.
	reify func() (*Tasklet, bool)

	execNanos atomic.Int64
	idleNanos atomic.Int64
}

func newWorker(index int, policy SchedulingPolicy, notify NotificationPolicy) *worker {
	return &worker{index: index, policy: policy, notify: notify}
}

// run is the worker's main loop. It returns when stopCh closes and
// Dequeue reports no more work.
func (w *worker) run(parent context.Context, stopCh <-chan struct{}) {
	ctx := context.WithValue(parent, workerIdentityKey, &WorkerIdentity{Index: w.index})

	w.policy.OnStartWorker(w.index)
	if w.notify != nil {
		w.notify.OnStartThread(w.index)
	}
	defer func() {
		w.policy.OnStopWorker(w.index)
		if w.notify != nil {
			w.notify.OnStopThread(w.index)
		}
	}()

	for {
		rec, ok := (*Tasklet)(nil), false
		if w.reify != nil {
			rec, ok = w.reify()
		}
		if !ok {
			idleStart := time.Now()
			rec, ok = w.policy.Dequeue(w.index, stopCh)
			w.idleNanos.Add(int64(time.Since(idleStart)))
			if !ok {
				return
			}
		}

		for {
			s, ex, priority := rec.Status()
			if s != StatePending {
				// Lost the race: someone else changed its state
				// (e.g. a concurrent set_state) between dequeue and
				// here; re-dequeue rather than run a stale record.
				rec = nil
				break
			}
			if rec.CompareAndSwapStatus(s, ex, priority, StateRunning, ex, priority) {
				w.policy.AccountTransition(StatePending, StateRunning)
				break
			}
		}
		if rec == nil {
			continue
		}

		w.execute(ctx, rec)
	}
}

// execute runs one invocation slice of rec and applies the resulting
// transition. A panic, or an illegal yielded state, is a tasklet_fault:
// reported via OnError and the record forced to (terminated, abort).
func (w *worker) execute(ctx context.Context, rec *Tasklet) {
	start := time.Now()
	var next State
	var faulted bool

	func() {
		defer func() {
			if r := recover(); r != nil {
				faulted = true
				err := &TaskletFaultError{
					Handle: rec.Handle(),
					Reason: "panic during invoke",
					Panic:  r,
					Stack:  debug.Stack(),
				}
				w.reportFault(rec, err)
			}
		}()
		_, ex, _ := rec.Status()
		next = rec.Invoke(ex)
	}()
	w.execNanos.Add(int64(time.Since(start)))

	if faulted {
		return
	}

	switch next {
	case StatePending:
		s, ex, priority := rec.Status()
		if rec.CompareAndSwapStatus(s, ex, priority, StatePending, ExSignaled, priority) {
			w.policy.AccountTransition(StateRunning, StatePending)
			w.policy.Enqueue(rec, priority, w.index)
		}
	case StateSuspended:
		s, ex, priority := rec.Status()
		if rec.CompareAndSwapStatus(s, ex, priority, StateSuspended, ex, priority) {
			w.policy.AccountTransition(StateRunning, StateSuspended)
		}
	case StateTerminated, StateDepleted:
		s, ex, priority := rec.Status()
		if rec.CompareAndSwapStatus(s, ex, priority, StateTerminated, ex, priority) {
			w.policy.AccountTransition(StateRunning, StateTerminated)
		}
		w.policy.ScheduleTerminated(rec)
	default:
		// running/active (or anything else) is an illegal yield.
		err := &TaskletFaultError{
			Handle: rec.Handle(),
			Reason: fmt.Sprintf("illegal yielded next-state %q", next),
		}
		w.reportFault(rec, err)
	}

	w.policy.IncrExecuted(w.index)
}

func (w *worker) reportFault(rec *Tasklet, err error) {
	s, ex, priority := rec.Status()
	if rec.CompareAndSwapStatus(s, ex, priority, StateTerminated, ExAbort, priority) {
		w.policy.AccountTransition(s, StateTerminated)
	}
	w.policy.ScheduleTerminated(rec)
	w.policy.OnError(w.index, err)
	if w.notify != nil {
		w.notify.OnError(w.index, err)
	}
}

// ExecutedNanos and IdleNanos back avg_maint_ratio: the fraction of elapsed
// time this worker spent idle (waiting in Dequeue) versus executing.
func (w *worker) ExecutedNanos() int64 { return w.execNanos.Load() }
func (w *worker) IdleNanos() int64     { return w.idleNanos.Load() }
