package core

import "github.com/google/uuid"

// State is the lifecycle state of a tasklet.
type State uint8

const (
	StatePending State = iota
	StateActive
	StateRunning
	StateSuspended
	StateDepleted
	StateTerminated
	StateStaged
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDepleted:
		return "depleted"
	case StateTerminated:
		return "terminated"
	case StateStaged:
		return "staged"
	default:
		return "unknown"
	}
}

// ExtendedState is the reason a tasklet was (re)awakened, passed as the
// argument to its function on the next invocation.
type ExtendedState uint8

const (
	ExSignaled ExtendedState = iota
	ExTimeout
	ExCanceled
	ExAbort
	ExTerminate
	ExUnknown
)

func (e ExtendedState) String() string {
	switch e {
	case ExSignaled:
		return "signaled"
	case ExTimeout:
		return "timeout"
	case ExCanceled:
		return "canceled"
	case ExAbort:
		return "abort"
	case ExTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Priority is a scheduling hint.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityBoost
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityBoost:
		return "boost"
	default:
		return "normal"
	}
}

// Handle is an opaque, stable identifier for a tasklet record. The zero
// value, InvalidHandle, denotes "unknown tasklet" in every return path that
// accepts or yields a handle.
type Handle uint64

// InvalidHandle is reserved to mean "no such tasklet".
const InvalidHandle Handle = 0

func (h Handle) Valid() bool { return h != InvalidHandle }

// GID is an opaque external identifier (e.g. for distributed naming). The
// core never interprets it; it is only stored and returned.
type GID struct {
	id    uuid.UUID
	valid bool
}

// InvalidGID is returned for tasklets with no assigned GID, or for unknown
// handles.
var InvalidGID = GID{}

// NewGID mints a fresh opaque GID.
func NewGID() GID {
	return GID{id: uuid.New(), valid: true}
}

// GIDFromString wraps a caller-supplied external identity.
func GIDFromString(s string) (GID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return GID{}, err
	}
	return GID{id: id, valid: true}, nil
}

func (g GID) Valid() bool { return g.valid }

func (g GID) String() string {
	if !g.valid {
		return "<invalid>"
	}
	return g.id.String()
}

// Function is the tasklet function contract: it consumes the extended
// state it was (re)awakened with and yields the state it wants next. It
// must return one of {StatePending, StateSuspended, StateTerminated,
// StateDepleted}; any other value (or a panic) is a tasklet fault.
type Function func(ex ExtendedState) State
