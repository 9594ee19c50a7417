package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ManagerStatus is the lifecycle state of a Manager.
type ManagerStatus int32

const (
	StatusInitializing ManagerStatus = iota
	StatusRunning
	StatusStopping
	StatusSuspended
	StatusStopped
)

func (s ManagerStatus) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusSuspended:
		return "suspended"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stagedEntry is one register_work submission awaiting reification. Only
// the closure and its requested initial placement are stored; no Tasklet
// is allocated until a worker actually picks it up.
type stagedEntry struct {
	fn       Function
	initial  State
	priority Priority
}

// Manager (C7) is the public façade: lifecycle, registration, state
// queries/mutation, and counter installation. Generalized from the
// teacher's GoroutineThreadPool (Start/Stop/Join) merged with its
// TaskScheduler's counters, now speaking in tasklet handles rather than
// closures.
type Manager struct {
	reg    *Registry
	policy SchedulingPolicy
	engine *StateEngine
	timers *TimerService
	notify NotificationPolicy
	logger Logger

	status atomic.Int32

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers []*worker
	wg      sync.WaitGroup

	stagedMu sync.Mutex
	staged   []stagedEntry
}

// NewManager constructs a Manager over a caller-supplied registry and
// scheduling policy (the embedder constructs both, per the ownership
// model: C3 owns records, C2 loans lookups, C7 holds both by reference).
func NewManager(reg *Registry, policy SchedulingPolicy, cfg *ManagerConfig) *Manager {
	if cfg == nil {
		cfg = DefaultManagerConfig()
	}
	m := &Manager{
		reg:    reg,
		policy: policy,
		notify: cfg.notify(),
		logger: cfg.logger(),
	}
	m.engine = NewStateEngine(reg, policy)
	m.timers = NewTimerService(m.engine, policy)
	return m
}

// NewPriorityManager is a convenience constructor wiring a fresh Registry
// and PrioritySchedulingPolicy together.
func NewPriorityManager(workerCount int, cfg *ManagerConfig) *Manager {
	reg := NewRegistry()
	return NewManager(reg, NewPrioritySchedulingPolicy(reg, workerCount), cfg)
}

// NewFIFOManager is a convenience constructor wiring a fresh Registry and
// FIFOSchedulingPolicy together.
func NewFIFOManager(workerCount int, cfg *ManagerConfig) *Manager {
	reg := NewRegistry()
	return NewManager(reg, NewFIFOSchedulingPolicy(reg, workerCount), cfg)
}

// Run starts num_workers worker goroutines. It is a one-shot: calling it
// when not in "initializing" fails with ErrInvalidState.
func (m *Manager) Run(numWorkers int) error {
	if !m.status.CompareAndSwap(int32(StatusInitializing), int32(StatusRunning)) {
		return ErrInvalidState
	}
	if numWorkers <= 0 {
		numWorkers = m.policy.WorkerCount()
	}
	if numWorkers <= 0 {
		m.status.Store(int32(StatusInitializing))
		return fmt.Errorf("tasklet: run: %w: numWorkers must be > 0", ErrThreadResourceError)
	}

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := newWorker(i, m.policy, m.notify)
		w.reify = m.tryReifyStaged
		m.workers[i] = w
	}
	ctx, stopCh := m.ctx, m.ctx.Done()
	workers := m.workers
	m.mu.Unlock()

	m.wg.Add(len(workers))
	var ready sync.WaitGroup
	ready.Add(len(workers))
	for _, w := range workers {
		go func(w *worker) {
			defer m.wg.Done()
			// Startup barrier: no worker enters its loop (and calls
			// OnStartWorker) until every peer goroutine has started.
			ready.Done()
			ready.Wait()
			w.run(ctx, stopCh)
		}(w)
	}
	m.logger.Info("manager started", F("workers", numWorkers))
	return nil
}

// Stop transitions the manager to stopping, signals all workers to exit,
// and (if blocking) joins them before transitioning to stopped. Per the
// design decision recorded for the open question on ordering, Stop does
// NOT itself abort suspended tasklets; call AbortAllSuspendedThreads
// first if that behavior is wanted.
func (m *Manager) Stop(blocking bool) error {
	cur := ManagerStatus(m.status.Load())
	if cur != StatusRunning && cur != StatusSuspended {
		return ErrInvalidState
	}
	m.status.Store(int32(StatusStopping))

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if blocking {
		m.wg.Wait()
		m.timers.Stop()
		m.status.Store(int32(StatusStopped))
		m.logger.Info("manager stopped")
	} else {
		go func() {
			m.wg.Wait()
			m.timers.Stop()
			m.status.Store(int32(StatusStopped))
		}()
	}
	return nil
}

// Status returns the manager's current lifecycle state.
func (m *Manager) Status() ManagerStatus { return ManagerStatus(m.status.Load()) }

// GetThreadCount returns the number of tasklets currently in state s.
func (m *Manager) GetThreadCount(s State) int64 { return m.policy.Count(s) }

// GetNumOSThreads returns the number of worker goroutines.
func (m *Manager) GetNumOSThreads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// AbortAllSuspendedThreads retags every suspended tasklet to (pending,
// abort) and makes it runnable.
func (m *Manager) AbortAllSuspendedThreads() { m.policy.AbortAllSuspended() }

// CleanupTerminated drains the termination queue, recycling finished
// records. Returns true if there was nothing to do.
func (m *Manager) CleanupTerminated() bool { return m.policy.CleanupTerminated() }

// RegisterThread materializes a record immediately and returns its handle.
func (m *Manager) RegisterThread(fn Function, initial State, priority Priority, runNow bool) (Handle, error) {
	if initial != StatePending && initial != StateSuspended {
		return InvalidHandle, ErrBadParameter
	}
	rec := m.policy.Acquire()
	rec.reset(rec.Handle(), InvalidGID, fn, initial, priority)
	m.reg.Insert(rec.Handle(), rec)
	m.policy.AccountCreated(initial)

	if initial == StatePending {
		m.policy.Enqueue(rec, priority, -1)
		if runNow {
			m.policy.NotifyWorkAvailable(-1)
		}
	}
	return rec.Handle(), nil
}

// RegisterThreadWithGID is RegisterThread plus assignment of an opaque
// external identity.
func (m *Manager) RegisterThreadWithGID(fn Function, initial State, priority Priority, runNow bool, gid GID) (Handle, error) {
	if initial != StatePending && initial != StateSuspended {
		return InvalidHandle, ErrBadParameter
	}
	rec := m.policy.Acquire()
	rec.reset(rec.Handle(), gid, fn, initial, priority)
	m.reg.Insert(rec.Handle(), rec)
	m.policy.AccountCreated(initial)

	if initial == StatePending {
		m.policy.Enqueue(rec, priority, -1)
		if runNow {
			m.policy.NotifyWorkAvailable(-1)
		}
	}
	return rec.Handle(), nil
}

// RegisterWork defers materialization: fn is placed in a staged queue and
// reified into a record by whichever worker picks it up next, amortizing
// allocation. Returns no handle, matching the source contract.
func (m *Manager) RegisterWork(fn Function, initial State, priority Priority) error {
	if initial != StatePending && initial != StateSuspended {
		return ErrBadParameter
	}
	m.stagedMu.Lock()
	m.staged = append(m.staged, stagedEntry{fn: fn, initial: initial, priority: priority})
	m.stagedMu.Unlock()
	m.policy.NotifyWorkAvailable(-1)
	return nil
}

// tryReifyStaged pops one staged entry (if any), materializes it, installs
// it in the registry, and returns it ready to run. Only StatePending staged
// entries are returned here: a staged entry requesting StateSuspended is
// reified directly into the registry without being handed to the worker
// as runnable, since there is nothing to execute yet.
func (m *Manager) tryReifyStaged() (*Tasklet, bool) {
	for {
		m.stagedMu.Lock()
		if len(m.staged) == 0 {
			m.stagedMu.Unlock()
			return nil, false
		}
		e := m.staged[0]
		m.staged = m.staged[1:]
		m.stagedMu.Unlock()

		rec := m.policy.Acquire()
		rec.reset(rec.Handle(), InvalidGID, e.fn, e.initial, e.priority)
		m.reg.Insert(rec.Handle(), rec)
		m.policy.AccountCreated(e.initial)

		if e.initial == StatePending {
			return rec, true
		}
		// Suspended staged work: nothing runnable right now, keep
		// looking at the next staged entry (or fall through to the
		// policy's run queue).
	}
}

// SetState is the external state-transition entry point (C5).
func (m *Manager) SetState(id Handle, newState State, newEx ExtendedState, priority Priority) (State, error) {
	return m.engine.SetState(id, newState, newEx, priority)
}

// SetStateAt arms a timed transition (C6): at deadline, id is transitioned
// as if SetState had been called directly.
func (m *Manager) SetStateAt(deadline time.Time, id Handle, newState State, newEx ExtendedState, priority Priority) TimerHandle {
	return m.timers.SetStateAt(deadline, id, newState, newEx, priority)
}

// SetStateAfter is SetStateAt with a relative deadline.
func (m *Manager) SetStateAfter(delay time.Duration, id Handle, newState State, newEx ExtendedState, priority Priority) TimerHandle {
	return m.timers.SetStateAfter(delay, id, newState, newEx, priority)
}

// CancelTimer cancels a pending timed transition.
func (m *Manager) CancelTimer(th TimerHandle) bool { return m.timers.Cancel(th) }

// GetState returns id's current state, or StateUnknown if id is not a
// live handle.
func (m *Manager) GetState(id Handle) State {
	rec, ok := m.reg.Lookup(id)
	if !ok {
		return StateUnknown
	}
	s, _, _ := rec.Status()
	return s
}

// GetPhase returns id's invocation count, or ^uint64(0) if unknown.
func (m *Manager) GetPhase(id Handle) uint64 {
	rec, ok := m.reg.Lookup(id)
	if !ok {
		return ^uint64(0)
	}
	return rec.Phase()
}

// GetDescription returns id's description, or "<unknown>" if unknown.
func (m *Manager) GetDescription(id Handle) string {
	rec, ok := m.reg.Lookup(id)
	if !ok {
		return "<unknown>"
	}
	return rec.Description()
}

// SetDescription sets id's description. A no-op for an unknown handle.
func (m *Manager) SetDescription(id Handle, desc string) {
	if rec, ok := m.reg.Lookup(id); ok {
		rec.SetDescription(desc)
	}
}

// GetLCODescription returns id's LCO-wait description, or "<unknown>".
func (m *Manager) GetLCODescription(id Handle) string {
	rec, ok := m.reg.Lookup(id)
	if !ok {
		return "<unknown>"
	}
	return rec.LCODescription()
}

// SetLCODescription sets id's LCO-wait description. A no-op for an
// unknown handle.
func (m *Manager) SetLCODescription(id Handle, desc string) {
	if rec, ok := m.reg.Lookup(id); ok {
		rec.SetLCODescription(desc)
	}
}

// GetThreadGID returns id's opaque external identity, or InvalidGID.
func (m *Manager) GetThreadGID(id Handle) GID {
	rec, ok := m.reg.Lookup(id)
	if !ok {
		return InvalidGID
	}
	return rec.GID()
}

// DoSomeWork hints that work may be available. workerHint == -1 means
// "all workers" (per the open question, this implementation notifies
// globally rather than targeting every worker individually).
func (m *Manager) DoSomeWork(workerHint int) { m.policy.NotifyWorkAvailable(workerHint) }

// ReportError reports an out-of-band error through both the notification
// and scheduling policies, mirroring the path a tasklet_fault takes.
func (m *Manager) ReportError(worker int, err error) {
	m.policy.OnError(worker, err)
	m.notify.OnError(worker, err)
}

// GetExecutedThreads returns the number of invocations completed by
// worker.
func (m *Manager) GetExecutedThreads(worker int) uint64 { return m.policy.Executed(worker) }

// AvgMaintRatio returns the fraction of elapsed wall-clock time the given
// worker (or, if worker < 0, the aggregate across all workers) spent idle
// versus executing, over the worker's lifetime so far.
func (m *Manager) AvgMaintRatio(worker int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if worker >= 0 {
		if worker >= len(m.workers) {
			return 0
		}
		return maintRatio(m.workers[worker])
	}
	var totalIdle, totalExec int64
	for _, w := range m.workers {
		totalIdle += w.IdleNanos()
		totalExec += w.ExecutedNanos()
	}
	return ratio(totalIdle, totalExec)
}

func maintRatio(w *worker) float64 { return ratio(w.IdleNanos(), w.ExecutedNanos()) }

func ratio(idle, exec int64) float64 {
	total := idle + exec
	if total == 0 {
		return 0
	}
	return float64(idle) / float64(total)
}

// InstallCounters passes the manager to install, which does the actual
// registration of its per-state, per-worker-executed, and
// per-worker-maintenance-ratio counters (for example by building a
// metrics.Exporter over m). The manager itself holds no registerer.
func (m *Manager) InstallCounters(install func(*Manager)) {
	install(m)
}
