// Package eventbus fans controller and job events out to in-process
// handlers and to a NATS subject.
package eventbus

import (
	"sync"
	"time"

	"github.com/kerfworks/kerf/controller"
	"github.com/kerfworks/kerf/job"
)

// Message kinds.
const (
	KindState     = "state"
	KindIncident  = "incident"
	KindLinkLost  = "link-lost"
	KindCutState  = "cut-state"
	KindJobShape  = "job-shape"
	KindJobParams = "job-param"
)

// Message is the flattened form of a controller or job event.
type Message struct {
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	State    string    `json:"state,omitempty"`
	Prev     string    `json:"prev,omitempty"`
	ID       string    `json:"id,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	Text     string    `json:"message,omitempty"`
	Job      string    `json:"job,omitempty"`
	Cut      *int      `json:"cut,omitempty"`
	CutState string    `json:"cut_state,omitempty"`
	Param    string    `json:"param,omitempty"`
}

type Handler func(Message)

// Bus delivers every published message to the current handlers, in the
// order they subscribed.
type Bus struct {
	mu       sync.RWMutex
	next     int
	ids      []int
	handlers []Handler
}

func New() *Bus {
	return &Bus{}
}

// Subscribe adds h and returns the function removing it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.ids = append(b.ids, id)
	b.handlers = append(b.handlers, h)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, x := range b.ids {
			if x == id {
				b.ids = append(b.ids[:i:i], b.ids[i+1:]...)
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(m Message) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	b.mu.RLock()
	hs := b.handlers
	b.mu.RUnlock()
	for _, h := range hs {
		h(m)
	}
}

// ControllerListener converts controller events for the bus.
func (b *Bus) ControllerListener() controller.Listener {
	return func(ev controller.Event) {
		m := Message{
			Time:  ev.Time,
			RunID: ev.RunID,
			State: ev.State.String(),
		}
		switch ev.Kind {
		case controller.StateChanged:
			m.Kind = KindState
			m.Prev = ev.Prev.String()
		case controller.Incident:
			m.Kind = KindIncident
			m.ID = ev.ID
			m.Text = ev.Message
		case controller.LinkLost:
			m.Kind = KindLinkLost
			m.Text = ev.Message
		default:
			return
		}
		b.Publish(m)
	}
}

// JobListener converts job events for the bus.
func (b *Bus) JobListener() job.Listener {
	return func(ev job.Event) {
		m := Message{Job: ev.Job.Name()}
		switch ev.Kind {
		case job.StateChanged:
			m.Kind = KindCutState
			cut := ev.Cut
			m.Cut = &cut
			m.CutState = ev.State.String()
		case job.ShapeChanged:
			m.Kind = KindJobShape
			m.Param = ev.Param
		case job.ParamChanged:
			m.Kind = KindJobParams
			m.Param = ev.Param
		default:
			return
		}
		b.Publish(m)
	}
}
