package task

import (
	"testing"

	"github.com/matryer/is"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
	"github.com/kerfworks/kerf/job"
)

func testJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New("square", []*geometry.Polyline{
		geometry.Rectangle(r2.Box{Max: r2.Vec{X: 10, Y: 10}}),
	}, job.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestTask(t *testing.T) {
	is := is.New(t)
	_, err := New(nil)
	is.Equal(err, ErrEmptyTask)

	tk, err := New([]string{"G90", "G28 Z"})
	is.NoErr(err)
	cmd, err := tk.Pop()
	is.NoErr(err)
	is.Equal(cmd, "G90")
	is.Equal(tk.Remaining(), 1)
	cmd, _ = tk.Pop()
	is.Equal(cmd, "G28 Z")
	_, err = tk.Pop()
	is.Equal(err, ErrExhausted)

	tk, _ = New([]string{"M5"})
	tk.Fail()
	is.True(tk.Failed())
	is.True(tk.Closed())
	_, err = tk.Pop()
	is.Equal(err, ErrExhausted)
}

func TestJobTaskCompletes(t *testing.T) {
	is := is.New(t)
	j := testJob(t)
	tk, err := NewJobTask([]string{"G90", "M3", "M5"}, j, 0, false)
	is.NoErr(err)

	s, _ := j.CutState(0)
	is.Equal(s, job.Todo)
	for {
		if _, err := tk.Pop(); err != nil {
			break
		}
		s, _ = j.CutState(0)
		is.Equal(s, job.Running)
	}
	tk.Close()
	s, _ = j.CutState(0)
	is.Equal(s, job.Done)

	// closing again changes nothing
	is.NoErr(j.SetCutState(0, job.Ignored))
	tk.Close()
	s, _ = j.CutState(0)
	is.Equal(s, job.Ignored)
}

func TestJobTaskFails(t *testing.T) {
	is := is.New(t)
	j := testJob(t)

	tk, _ := NewJobTask([]string{"G90", "M3", "M5"}, j, 0, false)
	tk.Pop()
	tk.Fail()
	s, _ := j.CutState(0)
	is.Equal(s, job.Failed)

	// closed before every command was sent
	is.NoErr(j.SetCutState(0, job.Todo))
	tk, _ = NewJobTask([]string{"G90", "M3"}, j, 0, false)
	tk.Pop()
	tk.Close()
	s, _ = j.CutState(0)
	is.Equal(s, job.Failed)
}

func TestDryRunLeavesState(t *testing.T) {
	is := is.New(t)
	j := testJob(t)
	tk, _ := NewJobTask([]string{"G90"}, j, 0, true)
	tk.Pop()
	s, _ := j.CutState(0)
	is.Equal(s, job.Todo)
	tk.Close()
	s, _ = j.CutState(0)
	is.Equal(s, job.Todo)
}

func TestRunnerInterface(t *testing.T) {
	var _ Runner = &Task{}
	var _ Runner = &JobTask{}
}
