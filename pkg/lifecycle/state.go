// Package lifecycle runs the gateway process through a small state machine
// and aggregates the health of its dependencies.
//
// A [Service] moves through:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// and into Failed when a start or stop hook fails. A stopped or failed
// service may be started again. Transitions outside this graph are rejected
// with [sserr.CodeConflict].
//
// Dependency probes are registered as [Check] values. [Service.Report]
// runs them concurrently and produces the document served on /healthz.
package lifecycle

// State is a lifecycle state. The zero value is not valid; a new
// [Service] starts in [StateUnknown].
type State string

const (
	// StateUnknown is a built but never started service.
	StateUnknown State = "unknown"

	// StateStarting is set while start hooks run.
	StateStarting State = "starting"

	// StateRunning is the only state in which the service reports healthy.
	StateRunning State = "running"

	// StateStopping is set while stop hooks drain the listeners.
	StateStopping State = "stopping"

	// StateStopped is a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed is entered when a hook fails.
	StateFailed State = "failed"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognised state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is [StateStopped] or [StateFailed].
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Self transitions
// are never valid.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
