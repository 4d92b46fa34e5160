package job

// EventKind tells what changed on a job.
type EventKind int

const (
	ShapeChanged EventKind = iota
	ParamChanged
	StateChanged
)

func (k EventKind) String() string {
	switch k {
	case ShapeChanged:
		return "shape"
	case ParamChanged:
		return "param"
	case StateChanged:
		return "state"
	}
	return "unknown"
}

// Event describes one change of a job. Cut is -1 when every cut state
// was reset at once.
type Event struct {
	Kind  EventKind
	Job   *Job
	Param string
	Cut   int
	State CutState
}

// Listener receives job events. It is called outside of the job lock and
// may read the job. Cut state changes made by a running controller are
// delivered outside of the controller lock too.
type Listener func(Event)
