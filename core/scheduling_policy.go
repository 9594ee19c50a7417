package core

import (
	"sync"
	"sync/atomic"
)

// SchedulingPolicy is the narrow contract the manager (C7) and worker loop
// (C4) consume. It owns every Tasklet record it hands out: acquisition,
// queue placement, termination, and recycling are all policy concerns, not
// core concerns. Priority, work-stealing and affinity live entirely behind
// this interface.
type SchedulingPolicy interface {
	// Acquire returns a fresh or recycled Tasklet record, ready for reset().
	Acquire() *Tasklet

	// Enqueue makes record eligible to run. workerHint is advisory; a
	// policy without per-worker queues may ignore it.
	Enqueue(record *Tasklet, priority Priority, workerHint int)

	// Dequeue returns a runnable record for worker, or (nil, false) if
	// none is available before stopCh closes. The caller must CAS the
	// record pending->running itself; on CAS failure it re-dequeues.
	Dequeue(worker int, stopCh <-chan struct{}) (*Tasklet, bool)

	// NotifyWorkAvailable wakes idle workers blocked in Dequeue.
	NotifyWorkAvailable(workerHint int)

	// ScheduleTerminated moves a finished record to the termination queue.
	ScheduleTerminated(record *Tasklet)

	// CleanupTerminated drains the termination queue, erasing each record
	// from the registry and returning it to the recycling pool. Returns
	// true if there is nothing more to do.
	CleanupTerminated() bool

	// Count returns the number of records currently in state s.
	Count(s State) int64
	// AccountCreated records that a freshly registered record starts in
	// state s, before it is ever enqueued or scheduled-terminated.
	AccountCreated(s State)
	// AccountTransition moves one unit of count from the from state to the
	// to state. Every CAS that changes a record's observable state — in the
	// worker loop or the state-transition engine — must pair with exactly
	// one call to this, or Count(s) drifts from the real population.
	AccountTransition(from, to State)

	// Executed returns the number of invocations completed by worker.
	Executed(worker int) uint64
	// IncrExecuted is called by the worker loop after each invocation.
	IncrExecuted(worker int)

	OnStartWorker(worker int)
	OnStopWorker(worker int)
	OnError(worker int, err error)

	// AbortAllSuspended atomically retags every suspended record to
	// (pending, abort) and enqueues it.
	AbortAllSuspended()

	WorkerCount() int
}

// =============================================================================
// Shared bookkeeping embedded by both FIFOSchedulingPolicy and
// PrioritySchedulingPolicy: per-state counters, per-worker executed
// counters, termination queue, recycling freelist, and the registry
// reference needed for AbortAllSuspended/CleanupTerminated. Generalized
// from the teacher's TaskScheduler (counters, signal channel) and
// ParallelTaskRunner (barrier bookkeeping for abort-all).
// =============================================================================

type policyCommon struct {
	reg *Registry

	signal chan struct{}

	counters [8]atomic.Int64 // indexed by State

	executedMu sync.Mutex
	executed   []uint64

	termMu   sync.Mutex
	termHead *Tasklet
	termTail *Tasklet

	freeMu   sync.Mutex
	freeHead *Tasklet

	nextHandle atomic.Uint64
}

func newPolicyCommon(reg *Registry, workerCount int) policyCommon {
	return policyCommon{
		reg:      reg,
		signal:   make(chan struct{}, workerCount*2+1),
		executed: make([]uint64, workerCount),
	}
}

func (p *policyCommon) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *policyCommon) addCount(s State, delta int64) {
	if int(s) < len(p.counters) {
		p.counters[s].Add(delta)
	}
}

func (p *policyCommon) Count(s State) int64 {
	if int(s) >= len(p.counters) {
		return 0
	}
	return p.counters[s].Load()
}

func (p *policyCommon) AccountCreated(s State) { p.addCount(s, 1) }

func (p *policyCommon) AccountTransition(from, to State) {
	p.addCount(from, -1)
	p.addCount(to, 1)
}

func (p *policyCommon) Executed(worker int) uint64 {
	p.executedMu.Lock()
	defer p.executedMu.Unlock()
	if worker < 0 || worker >= len(p.executed) {
		return 0
	}
	return p.executed[worker]
}

func (p *policyCommon) IncrExecuted(worker int) {
	p.executedMu.Lock()
	defer p.executedMu.Unlock()
	if worker >= 0 && worker < len(p.executed) {
		p.executed[worker]++
	}
}

func (p *policyCommon) OnStartWorker(worker int) {}
func (p *policyCommon) OnStopWorker(worker int)  {}
func (p *policyCommon) OnError(worker int, err error) {}

func (p *policyCommon) WorkerCount() int { return len(p.executed) }

// Acquire pops the recycling freelist, or allocates a new record and
// mints it a fresh handle.
func (p *policyCommon) Acquire() *Tasklet {
	p.freeMu.Lock()
	if p.freeHead != nil {
		t := p.freeHead
		p.freeHead = t.next
		t.next = nil
		p.freeMu.Unlock()
		return t
	}
	p.freeMu.Unlock()

	t := newTasklet()
	t.handle = Handle(p.nextHandle.Add(1))
	return t
}

func (p *policyCommon) scheduleTerminated(record *Tasklet) {
	p.termMu.Lock()
	record.next = nil
	if p.termTail == nil {
		p.termHead, p.termTail = record, record
	} else {
		p.termTail.next = record
		p.termTail = record
	}
	p.termMu.Unlock()
}

// cleanupTerminated drains the termination queue: erases each record from
// the registry and returns it to the freelist. Returns true when the queue
// was empty (nothing more to do).
func (p *policyCommon) cleanupTerminated() bool {
	p.termMu.Lock()
	head := p.termHead
	p.termHead, p.termTail = nil, nil
	p.termMu.Unlock()

	if head == nil {
		return true
	}

	for rec := head; rec != nil; {
		next := rec.next
		p.reg.Erase(rec.handle)
		p.addCount(StateTerminated, -1)
		rec.next = nil

		p.freeMu.Lock()
		rec.next = p.freeHead
		p.freeHead = rec
		p.freeMu.Unlock()

		rec = next
	}
	return false
}

// abortAllSuspended scans the registry for suspended records and
// retags them to (pending, abort), enqueueing via push.
func (p *policyCommon) abortAllSuspended(push func(*Tasklet)) {
	var toPush []*Tasklet
	p.reg.Range(func(h Handle, t *Tasklet) bool {
		for {
			s, ex, priority := t.Status()
			if s != StateSuspended {
				return true
			}
			if t.CompareAndSwapStatus(s, ex, priority, StatePending, ExAbort, priority) {
				toPush = append(toPush, t)
				return true
			}
		}
	})
	for _, t := range toPush {
		p.AccountTransition(StateSuspended, StatePending)
		push(t)
	}
}

// =============================================================================
// FIFOSchedulingPolicy: single shared FIFO run-queue, generalized from the
// teacher's NewFIFOTaskScheduler.
// =============================================================================

type FIFOSchedulingPolicy struct {
	policyCommon
	queue *fifoRunQueue
}

func NewFIFOSchedulingPolicy(reg *Registry, workerCount int) *FIFOSchedulingPolicy {
	return &FIFOSchedulingPolicy{
		policyCommon: newPolicyCommon(reg, workerCount),
		queue:        newFIFORunQueue(),
	}
}

func (p *FIFOSchedulingPolicy) Enqueue(record *Tasklet, priority Priority, workerHint int) {
	p.queue.Push(record)
	p.wake()
}

func (p *FIFOSchedulingPolicy) Dequeue(worker int, stopCh <-chan struct{}) (*Tasklet, bool) {
	for {
		if t, ok := p.queue.Pop(); ok {
			return t, true
		}
		select {
		case <-p.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

func (p *FIFOSchedulingPolicy) NotifyWorkAvailable(workerHint int) { p.wake() }

// ScheduleTerminated moves record to the termination queue. The caller is
// responsible for having already accounted the transition into terminated
// via AccountTransition — this only owns the reclaim-queue placement.
func (p *FIFOSchedulingPolicy) ScheduleTerminated(record *Tasklet) {
	p.scheduleTerminated(record)
}

func (p *FIFOSchedulingPolicy) CleanupTerminated() bool { return p.cleanupTerminated() }

func (p *FIFOSchedulingPolicy) AbortAllSuspended() {
	p.abortAllSuspended(func(t *Tasklet) { p.Enqueue(t, PriorityNormal, -1) })
}

// =============================================================================
// PrioritySchedulingPolicy: single shared priority run-queue, generalized
// from the teacher's NewPriorityTaskScheduler / PriorityTaskQueue.
// =============================================================================

type PrioritySchedulingPolicy struct {
	policyCommon
	queue *priorityRunQueue
}

func NewPrioritySchedulingPolicy(reg *Registry, workerCount int) *PrioritySchedulingPolicy {
	return &PrioritySchedulingPolicy{
		policyCommon: newPolicyCommon(reg, workerCount),
		queue:        newPriorityRunQueue(),
	}
}

func (p *PrioritySchedulingPolicy) Enqueue(record *Tasklet, priority Priority, workerHint int) {
	p.queue.Push(record)
	p.wake()
}

func (p *PrioritySchedulingPolicy) Dequeue(worker int, stopCh <-chan struct{}) (*Tasklet, bool) {
	for {
		if t, ok := p.queue.Pop(); ok {
			return t, true
		}
		select {
		case <-p.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

func (p *PrioritySchedulingPolicy) NotifyWorkAvailable(workerHint int) { p.wake() }

// ScheduleTerminated moves record to the termination queue. The caller is
// responsible for having already accounted the transition into terminated
// via AccountTransition — this only owns the reclaim-queue placement.
func (p *PrioritySchedulingPolicy) ScheduleTerminated(record *Tasklet) {
	p.scheduleTerminated(record)
}

func (p *PrioritySchedulingPolicy) CleanupTerminated() bool { return p.cleanupTerminated() }

func (p *PrioritySchedulingPolicy) AbortAllSuspended() {
	p.abortAllSuspended(func(t *Tasklet) { p.Enqueue(t, PriorityNormal, -1) })
}
