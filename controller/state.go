package controller

// State is the connection and execution state of a Controller.
type State int

const (
	Unconnected State = iota
	Inactive
	Active
	// SafeMode runs the emergency task only.
	SafeMode
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case SafeMode:
		return "safe-mode"
	}
	return "unknown"
}
