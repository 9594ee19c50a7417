package core

import (
	"sync"
	"sync/atomic"
)

// statusWord packs (state, extended-state, priority) into a single uint32 so
// the triple can be read and compare-and-swapped atomically without a lock.
type statusWord uint32

func packStatus(s State, e ExtendedState, p Priority) statusWord {
	return statusWord(uint32(s) | uint32(e)<<8 | uint32(p)<<16)
}

func (w statusWord) unpack() (State, ExtendedState, Priority) {
	return State(w & 0xff), ExtendedState((w >> 8) & 0xff), Priority((w >> 16) & 0xff)
}

// Tasklet is a cooperatively-scheduled unit of work: a function, a packed
// atomic status (state/extended-state/priority), a monotonic phase counter,
// identity, and description strings. Tasklet records are exclusively owned
// by a SchedulingPolicy (C3); a Handle is a non-owning identifier into the
// Registry.
type Tasklet struct {
	handle Handle
	gid    GID

	fn Function

	status atomic.Uint32
	phase  atomic.Uint64

	descMu         sync.Mutex
	description    string
	lcoDescription string

	// next links free/terminated records into the owning policy's
	// termination queue (while the record is still registered) and
	// recycling pool (after erase). It is only touched under the policy's
	// queue locks or before the record is inserted into the registry.
	next *Tasklet
}

func newTasklet() *Tasklet {
	t := &Tasklet{}
	t.status.Store(uint32(packStatus(StateUnknown, ExUnknown, PriorityNormal)))
	return t
}

// reset prepares a recycled record for reuse by a fresh registration.
func (t *Tasklet) reset(handle Handle, gid GID, fn Function, initial State, priority Priority) {
	t.handle = handle
	t.gid = gid
	t.fn = fn
	t.status.Store(uint32(packStatus(initial, ExSignaled, priority)))
	t.phase.Store(0)
	t.descMu.Lock()
	t.description = ""
	t.lcoDescription = ""
	t.descMu.Unlock()
	t.next = nil
}

// Handle returns the tasklet's stable identifier.
func (t *Tasklet) Handle() Handle { return t.handle }

// GID returns the opaque external identity assigned at registration, or
// InvalidGID if none was assigned.
func (t *Tasklet) GID() GID { return t.gid }

// Status atomically reads (state, extended-state, priority).
func (t *Tasklet) Status() (State, ExtendedState, Priority) {
	return statusWord(t.status.Load()).unpack()
}

// SetStatusAtomic unconditionally stores the new (state, extended-state,
// priority) triple and returns the previous state. Callers that must
// enforce transition legality (C5) use CompareAndSwapStatus instead.
func (t *Tasklet) SetStatusAtomic(newState State, newEx ExtendedState, priority Priority) State {
	prev := statusWord(t.status.Swap(uint32(packStatus(newState, newEx, priority))))
	s, _, _ := prev.unpack()
	return s
}

// CompareAndSwapStatus performs the single CAS that expresses a legal
// transition: it only succeeds if the tasklet's current status is exactly
// (oldState, oldEx, oldPriority).
func (t *Tasklet) CompareAndSwapStatus(oldState State, oldEx ExtendedState, oldPriority Priority, newState State, newEx ExtendedState, newPriority Priority) bool {
	old := uint32(packStatus(oldState, oldEx, oldPriority))
	newWord := uint32(packStatus(newState, newEx, newPriority))
	return t.status.CompareAndSwap(old, newWord)
}

// Phase returns the monotonically increasing count of times the tasklet's
// function has been entered.
func (t *Tasklet) Phase() uint64 { return t.phase.Load() }

// Description returns the tasklet's human-readable description.
func (t *Tasklet) Description() string {
	t.descMu.Lock()
	defer t.descMu.Unlock()
	return t.description
}

// SetDescription sets the tasklet's human-readable description.
func (t *Tasklet) SetDescription(desc string) {
	t.descMu.Lock()
	t.description = desc
	t.descMu.Unlock()
}

// LCODescription returns the tasklet's LCO-wait description (what
// synchronization object, if any, this tasklet is waiting on).
func (t *Tasklet) LCODescription() string {
	t.descMu.Lock()
	defer t.descMu.Unlock()
	return t.lcoDescription
}

// SetLCODescription sets the tasklet's LCO-wait description.
func (t *Tasklet) SetLCODescription(desc string) {
	t.descMu.Lock()
	t.lcoDescription = desc
	t.descMu.Unlock()
}

// Invoke increments the phase counter and runs the tasklet's function with
// the given extended state, returning the function's yielded next state.
// The caller is responsible for recovering panics; Invoke itself does not.
func (t *Tasklet) Invoke(ex ExtendedState) State {
	t.phase.Add(1)
	return t.fn(ex)
}
