package core

// StateEngine (C5) implements set_state: resolving a handle, enforcing
// legal transitions via the packed-status CAS, and handling the "mutate a
// currently-active tasklet" hazard by deferring the mutation to a shim
// tasklet rather than applying it in place. Grounded on the teacher's
// self-reposting pattern in SequencedTaskRunner.rePostSelf, generalized
// from reposting a closure to reposting a retry of set_state itself.
type StateEngine struct {
	reg    *Registry
	policy SchedulingPolicy
}

func NewStateEngine(reg *Registry, policy SchedulingPolicy) *StateEngine {
	return &StateEngine{reg: reg, policy: policy}
}

// SetState resolves id, then either mutates its status directly or, if the
// record is active (mid-invocation on another worker), queues a shim
// tasklet at boost priority to retry the mutation after it yields. Returns
// the record's previous state; an unknown handle returns (StateUnknown,
// nil) rather than an error, per the unknown_tasklet propagation policy.
func (e *StateEngine) SetState(id Handle, newState State, newEx ExtendedState, priority Priority) (State, error) {
	rec, ok := e.reg.Lookup(id)
	if !ok {
		return StateUnknown, nil
	}
	return e.setStateOnRecord(rec, newState, newEx, priority)
}

func (e *StateEngine) setStateOnRecord(rec *Tasklet, newState State, newEx ExtendedState, priority Priority) (State, error) {
	for {
		curState, curEx, curPriority := rec.Status()

		if curState == StateTerminated {
			// terminated is terminal for execution; any attempted
			// transition out of it is illegal.
			if newState != StateTerminated {
				return StateTerminated, ErrInvalidStatus
			}
		}

		// running is the stored shape of a tasklet mid-invocation; active is
		// the transient rendezvous shape that same record presents to an
		// external caller (§3 invariant 2). Either way the record must never
		// be mutated in place here — defer to a shim and report active.
		if curState == StateActive || curState == StateRunning {
			e.queueShim(rec, newState, newEx, priority)
			return StateActive, nil
		}

		if !legalTransition(curState, newState) {
			return curState, ErrInvalidStatus
		}

		if !rec.CompareAndSwapStatus(curState, curEx, curPriority, newState, newEx, priority) {
			continue
		}

		e.onTransitioned(rec, curState, newState, priority)
		return curState, nil
	}
}

// onTransitioned performs the bookkeeping the CAS in setStateOnRecord
// promised: updating the per-state counters (Invariant 6), re-enqueuing a
// newly-pending record, and routing a newly-terminated one to the
// termination queue.
func (e *StateEngine) onTransitioned(rec *Tasklet, prevState, newState State, priority Priority) {
	e.policy.AccountTransition(prevState, newState)
	switch {
	case newState == StatePending && prevState != StatePending:
		e.policy.Enqueue(rec, priority, -1)
	case newState == StateTerminated:
		e.policy.ScheduleTerminated(rec)
	}
}

// queueShim constructs a one-shot tasklet that simply retries the set_state
// against rec once rec is no longer active, and enqueues it at boost
// priority. This is the deferred-rendezvous pattern: the caller is never
// blocked and the no-preemption invariant on rec is preserved.
func (e *StateEngine) queueShim(rec *Tasklet, newState State, newEx ExtendedState, priority Priority) {
	shim := e.policy.Acquire()
	fn := func(ExtendedState) State {
		_, _ = e.setStateOnRecord(rec, newState, newEx, priority)
		return StateTerminated
	}
	shim.reset(shim.Handle(), InvalidGID, fn, StatePending, PriorityBoost)
	e.policy.AccountCreated(StatePending)
	e.policy.Enqueue(shim, PriorityBoost, -1)
}

// legalTransition enumerates the transitions set_state may apply directly.
// active and running are handled separately (via shim) before this is
// consulted — a record actually being invoked is never a direct-CAS target.
// terminated is handled as a special terminal case above. staged and
// unknown are never CAS targets of an external set_state call: staged
// records are reified by a worker, and unknown is not a real state.
func legalTransition(from, to State) bool {
	switch from {
	case StatePending, StateSuspended, StateDepleted:
		switch to {
		case StatePending, StateSuspended, StateDepleted, StateTerminated:
			return true
		}
	}
	return false
}
