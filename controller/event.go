package controller

import "time"

// EventKind tells what a controller Event reports.
type EventKind int

const (
	StateChanged EventKind = iota
	// Incident is a device error line or an acknowledgement timeout.
	Incident
	// LinkLost is raised when a link failure forced a disconnect.
	LinkLost
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "state"
	case Incident:
		return "incident"
	case LinkLost:
		return "link-lost"
	}
	return "unknown"
}

type Event struct {
	Kind  EventKind
	Time  time.Time
	State State
	Prev  State
	// ID identifies an incident.
	ID      string
	RunID   string
	Message string
}

// Listener receives controller events in order. Listeners may read the
// controller state but must not call methods that change it.
type Listener func(Event)
