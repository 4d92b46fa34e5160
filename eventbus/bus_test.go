package eventbus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/controller"
	"github.com/kerfworks/kerf/geometry"
	"github.com/kerfworks/kerf/job"
)

func TestFanOut(t *testing.T) {
	is := is.New(t)
	b := New()
	var first, second []string
	cancel := b.Subscribe(func(m Message) { first = append(first, m.Kind) })
	b.Subscribe(func(m Message) { second = append(second, m.Kind) })

	b.Publish(Message{Kind: KindState})
	cancel()
	b.Publish(Message{Kind: KindIncident})

	is.Equal(first, []string{KindState})
	is.Equal(second, []string{KindState, KindIncident})
}

func TestControllerEvents(t *testing.T) {
	is := is.New(t)
	b := New()
	var got []Message
	b.Subscribe(func(m Message) { got = append(got, m) })
	l := b.ControllerListener()

	now := time.Now()
	l(controller.Event{Kind: controller.StateChanged, Time: now, State: controller.Active, Prev: controller.Inactive, RunID: "r1"})
	l(controller.Event{Kind: controller.Incident, Time: now, State: controller.SafeMode, ID: "i1", Message: "arc transfer timeout"})

	is.Equal(len(got), 2)
	is.Equal(got[0], Message{Kind: KindState, Time: now, State: "active", Prev: "inactive", RunID: "r1"})
	is.Equal(got[1].Kind, KindIncident)
	is.Equal(got[1].ID, "i1")
	is.Equal(got[1].Text, "arc transfer timeout")
}

func TestJobEvents(t *testing.T) {
	is := is.New(t)
	j, err := job.New("Plate", []*geometry.Polyline{
		geometry.Rectangle(r2.Box{Max: r2.Vec{X: 10, Y: 10}}),
	}, job.DefaultParams())
	is.NoErr(err)

	b := New()
	var got []Message
	b.Subscribe(func(m Message) { got = append(got, m) })
	j.Subscribe(b.JobListener())

	is.NoErr(j.SetCutState(0, job.Done))
	is.NoErr(j.SetFeedrate(4000))

	is.Equal(len(got), 2)
	is.Equal(got[0].Kind, KindCutState)
	is.Equal(got[0].Job, "Plate")
	is.Equal(*got[0].Cut, 0)
	is.Equal(got[0].CutState, "DONE")
	is.True(!got[0].Time.IsZero())
	is.Equal(got[1].Kind, KindJobParams)
	is.Equal(got[1].Param, "feedrate")
}

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSPublisher(t *testing.T) {
	is := is.New(t)
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "kerf.events")
	b := New()
	b.Subscribe(p.Handle)

	cut := 2
	b.Publish(Message{Kind: KindCutState, Job: "Plate", Cut: &cut, CutState: "FAILED"})
	is.Equal(conn.subjects, []string{"kerf.events.cut-state"})

	var m map[string]any
	is.NoErr(json.Unmarshal(conn.payloads[0], &m))
	is.Equal(m["job"], "Plate")
	is.Equal(m["cut"], 2.0)
	is.Equal(m["cut_state"], "FAILED")
	_, ok := m["state"]
	is.True(!ok)

	conn.err = errors.New("disconnected")
	b.Publish(Message{Kind: KindState})
	is.Equal(len(conn.subjects), 1)

	is.NoErr(p.Close())
	is.True(conn.drained)
}
