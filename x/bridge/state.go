package bridge

// State is the bridge lifecycle state. Transitions only move forward:
// Unstarted, Starting, Running, Stopping, Stopped.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// canTransition reports whether the lifecycle allows from -> to.
func canTransition(from, to State) bool {
	switch from {
	case StateUnstarted:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateStopping
	case StateRunning:
		return to == StateStopping
	case StateStopping:
		return to == StateStopped
	default:
		return false
	}
}
