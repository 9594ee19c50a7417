package tasklet

import (
	"context"

	"github.com/tasklet-rt/tasklet/core"
)

// Re-exports of the core types most callers need, so that importing this
// package alone is enough for typical use.

type (
	State         = core.State
	ExtendedState = core.ExtendedState
	Priority      = core.Priority
	Handle        = core.Handle
	GID           = core.GID
	Function      = core.Function

	Manager       = core.Manager
	ManagerConfig = core.ManagerConfig
	ManagerStatus = core.ManagerStatus
	Registry      = core.Registry
	TimerHandle   = core.TimerHandle

	SchedulingPolicy   = core.SchedulingPolicy
	NotificationPolicy = core.NotificationPolicy
	Logger             = core.Logger
	Field              = core.Field
)

const (
	StatePending    = core.StatePending
	StateActive     = core.StateActive
	StateRunning    = core.StateRunning
	StateSuspended  = core.StateSuspended
	StateDepleted   = core.StateDepleted
	StateTerminated = core.StateTerminated
	StateStaged     = core.StateStaged
	StateUnknown    = core.StateUnknown

	ExSignaled  = core.ExSignaled
	ExTimeout   = core.ExTimeout
	ExCanceled  = core.ExCanceled
	ExAbort     = core.ExAbort
	ExTerminate = core.ExTerminate
	ExUnknown   = core.ExUnknown

	PriorityLow    = core.PriorityLow
	PriorityNormal = core.PriorityNormal
	PriorityHigh   = core.PriorityHigh
	PriorityBoost  = core.PriorityBoost

	InvalidHandle = core.InvalidHandle
)

var InvalidGID = core.InvalidGID

var (
	ErrInvalidStatus       = core.ErrInvalidStatus
	ErrBadParameter        = core.ErrBadParameter
	ErrInvalidState        = core.ErrInvalidState
	ErrThreadResourceError = core.ErrThreadResourceError
)

type TaskletFaultError = core.TaskletFaultError

// NewGID mints a fresh opaque external identity.
func NewGID() GID { return core.NewGID() }

// GIDFromString wraps a caller-supplied external identity.
func GIDFromString(s string) (GID, error) { return core.GIDFromString(s) }

// NewRegistry constructs an empty tasklet registry (C2).
func NewRegistry() *Registry { return core.NewRegistry() }

// NewPrioritySchedulingPolicy constructs the priority-ordered scheduling
// policy (C3) over reg.
func NewPrioritySchedulingPolicy(reg *Registry, workerCount int) SchedulingPolicy {
	return core.NewPrioritySchedulingPolicy(reg, workerCount)
}

// NewFIFOSchedulingPolicy constructs the FIFO scheduling policy (C3) over
// reg.
func NewFIFOSchedulingPolicy(reg *Registry, workerCount int) SchedulingPolicy {
	return core.NewFIFOSchedulingPolicy(reg, workerCount)
}

// DefaultManagerConfig returns a ManagerConfig with default collaborators.
func DefaultManagerConfig() *ManagerConfig { return core.DefaultManagerConfig() }

// NewManager constructs a Manager façade (C7) over a caller-supplied
// registry and scheduling policy.
func NewManager(reg *Registry, policy SchedulingPolicy, cfg *ManagerConfig) *Manager {
	return core.NewManager(reg, policy, cfg)
}

// NewPriorityManager wires a fresh Registry and priority scheduling
// policy together behind a Manager.
func NewPriorityManager(workerCount int, cfg *ManagerConfig) *Manager {
	return core.NewPriorityManager(workerCount, cfg)
}

// NewFIFOManager wires a fresh Registry and FIFO scheduling policy
// together behind a Manager.
func NewFIFOManager(workerCount int, cfg *ManagerConfig) *Manager {
	return core.NewFIFOManager(workerCount, cfg)
}

// WorkerIdentity is the worker-local context installed for the duration
// of a worker's loop.
type WorkerIdentity = core.WorkerIdentity

// WorkerFromContext recovers the calling worker's identity from a context
// derived from a Manager's worker loop, or nil outside of one.
func WorkerFromContext(ctx context.Context) *WorkerIdentity {
	return core.WorkerFromContext(ctx)
}
