package task

// State is the lifecycle position of a Task.
//
//	Idle -> Running -> {Paused, Completed, Cancelled}
//	Paused -> Running (Resume) | Cancelled (Cancel)
//
// Completed and Cancelled are terminal.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
