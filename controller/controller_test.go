package controller

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
	"github.com/kerfworks/kerf/job"
	"github.com/kerfworks/kerf/postproc"
	"github.com/kerfworks/kerf/task"
)

const waitTimeout = 2 * time.Second

var errClosed = errors.New("fake link closed")

// fakeLink is an in-memory machine link. Lines pushed on in are read by
// the controller; lines written by the controller arrive on out.
type fakeLink struct {
	mu       sync.Mutex
	in       chan string
	out      chan string
	closed   chan struct{}
	writeErr error
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		in:  make(chan string, 64),
		out: make(chan string, 1024),
	}
}

func (f *fakeLink) Open(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = make(chan struct{})
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeLink) ReadLine() (string, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	select {
	case line := <-f.in:
		return line, nil
	case <-closed:
		return "", errClosed
	case <-time.After(5 * time.Millisecond):
		return "", nil
	}
}

func (f *fakeLink) WriteLine(line string) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.out <- line
	return nil
}

// next returns the next line written by the controller.
func (f *fakeLink) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-f.out:
		return line
	case <-time.After(waitTimeout):
		t.Fatal("no command sent")
	}
	return ""
}

// quiet fails if the controller writes anything for a while.
func (f *fakeLink) quiet(t *testing.T) {
	t.Helper()
	select {
	case line := <-f.out:
		t.Fatalf("unexpected command %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

// ackAll answers every command with ok until the test ends and returns
// the commands received so far when called.
func (f *fakeLink) ackAll(t *testing.T) func() []string {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case line := <-f.out:
				mu.Lock()
				got = append(got, line)
				mu.Unlock()
				f.in <- "ok"
			case <-done:
				return
			}
		}
	}()
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}
}

type events chan Event

func listen(c *Controller) events {
	ch := make(events, 256)
	c.Subscribe(func(ev Event) { ch <- ev })
	return ch
}

func (ch events) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("event never came")
		}
	}
}

func (ch events) waitState(t *testing.T, s State) {
	t.Helper()
	ch.waitFor(t, func(ev Event) bool { return ev.Kind == StateChanged && ev.State == s })
}

type sourceFunc func(*postproc.PostProcessor, bool) ([]task.Runner, error)

func (f sourceFunc) GenerateTasks(post *postproc.PostProcessor, dryRun bool) ([]task.Runner, error) {
	return f(post, dryRun)
}

func squareJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New("square", []*geometry.Polyline{
		geometry.Rectangle(r2.Box{Max: r2.Vec{X: 50, Y: 50}}),
	}, job.DefaultParams())
	require.NoError(t, err)
	return j
}

func jobSource(j *job.Job) TaskSource {
	return sourceFunc(func(post *postproc.PostProcessor, dryRun bool) ([]task.Runner, error) {
		var out []task.Runner
		for _, cut := range j.CutStateIndices(job.Todo) {
			tk, err := post.Generate(j, cut, dryRun)
			if err != nil {
				return nil, err
			}
			out = append(out, tk)
		}
		return out, nil
	})
}

func connected(t *testing.T, cfg Config) (*Controller, *fakeLink, events) {
	t.Helper()
	link := newFakeLink()
	c := New(link, postproc.New(postproc.DefaultConfig()), cfg)
	evs := listen(c)
	require.NoError(t, c.Connect("fake"))
	evs.waitState(t, Inactive)
	t.Cleanup(func() {
		if c.State() == Inactive {
			c.Disconnect()
		}
	})
	return c, link, evs
}

func TestRunCutsJob(t *testing.T) {
	c, link, evs := connected(t, Config{})
	sent := link.ackAll(t)

	j := squareJob(t)
	var mu sync.Mutex
	var states []job.CutState
	j.Subscribe(func(ev job.Event) {
		if ev.Kind == job.StateChanged {
			mu.Lock()
			states = append(states, ev.State)
			mu.Unlock()
		}
	})

	require.NoError(t, c.Run(jobSource(j), false))
	evs.waitState(t, Active)
	evs.waitState(t, Inactive)

	cmds := sent()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "G90", cmds[0])
	count := func(want string) int {
		n := 0
		for _, cmd := range cmds {
			if cmd == want {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count("PROBE"))
	assert.Equal(t, 1, count("M3"))
	assert.Equal(t, 1, count("G4 P500"))
	assert.Equal(t, []string{"M7", "M5", "M8"}, cmds[len(cmds)-3:])

	s, _ := j.CutState(0)
	assert.Equal(t, job.Done, s)
	mu.Lock()
	assert.Equal(t, []job.CutState{job.Running, job.Done}, states)
	mu.Unlock()
	assert.Empty(t, c.RunID())

	// every command and acknowledgement is logged
	assert.Len(t, c.Log(), 2*len(cmds))
}

func TestJobListenerCanQueryController(t *testing.T) {
	c, link, evs := connected(t, Config{})
	link.ackAll(t)

	j := squareJob(t)
	seen := make(chan State, 8)
	j.Subscribe(func(ev job.Event) {
		if ev.Kind == job.StateChanged {
			seen <- c.State()
		}
	})

	require.NoError(t, c.Run(jobSource(j), false))
	evs.waitState(t, Active)
	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(waitTimeout):
			t.Fatal("job listener blocked on the controller")
		}
	}
	evs.waitState(t, Inactive)
	s, _ := j.CutState(0)
	assert.Equal(t, job.Done, s)
	assert.Equal(t, Inactive, c.State())
}

func TestIncidentEntersSafeMode(t *testing.T) {
	c, link, evs := connected(t, Config{})
	j := squareJob(t)
	require.NoError(t, c.Run(jobSource(j), false))
	assert.Equal(t, "G90", link.next(t))

	link.in <- "!! generic fault"
	inc := evs.waitFor(t, func(ev Event) bool { return ev.Kind == Incident })
	assert.Equal(t, "generic fault", inc.Message)
	assert.NotEmpty(t, inc.ID)
	ev := evs.waitFor(t, func(ev Event) bool { return ev.Kind == StateChanged })
	assert.Equal(t, SafeMode, ev.State)
	assert.Equal(t, Active, ev.Prev)

	s, _ := j.CutState(0)
	assert.Equal(t, job.Failed, s)

	// only the emergency sequence runs
	post := postproc.New(postproc.DefaultConfig())
	for _, want := range post.EmergencySequence() {
		assert.Equal(t, want, link.next(t))
		assert.ErrorIs(t, c.Send("G28"), ErrSafeMode)
		link.in <- "ok"
	}
	evs.waitState(t, Inactive)
	link.quiet(t)
}

func TestErrorLineAbortsImmediately(t *testing.T) {
	is := is.New(t)
	post := postproc.New(postproc.DefaultConfig())
	c := New(newFakeLink(), post, Config{})
	j := squareJob(t)
	tk, err := post.Generate(j, 0, false)
	is.NoErr(err)
	queued, _ := task.New([]string{"G28"})

	c.state = Active
	c.cur = tk
	c.tasks = []task.Runner{queued}
	c.busy = true
	tk.Pop()

	c.tree.Dispatch("!! generic fault")
	is.Equal(c.state, SafeMode)
	is.True(!c.busy)
	is.Equal(c.cur, nil)
	is.Equal(len(c.tasks), 1)
	is.Equal(c.tasks[0].Commands(), post.EmergencySequence())
	s, _ := j.CutState(0)
	is.Equal(s, job.Failed)
	is.Equal(len(c.pending), 2)

	// the more specific prefix gets its own message
	c.state = Active
	c.tree.Dispatch("!! Arc transfer timeout 30")
	is.Equal(len(c.pending), 4)
	is.Equal(c.pending[2].Kind, Incident)
	is.Equal(c.pending[2].Message, "arc transfer timeout after 30")
}

func TestIncidentWhileInactive(t *testing.T) {
	c, link, evs := connected(t, Config{})
	link.in <- "!! Arc transfer timeout"
	inc := evs.waitFor(t, func(ev Event) bool { return ev.Kind == Incident })
	assert.Equal(t, "arc transfer timeout", inc.Message)
	assert.Equal(t, Inactive, inc.State)
	assert.Equal(t, Inactive, c.State())
}

func TestManualCommands(t *testing.T) {
	link := newFakeLink()
	c := New(link, postproc.New(postproc.DefaultConfig()), Config{})
	assert.ErrorIs(t, c.Send("G28"), ErrNotConnected)

	c, link, _ = connected(t, Config{})
	require.NoError(t, c.Send("  G28 X ; home x "))
	require.NoError(t, c.Send("; only a comment"))
	require.NoError(t, c.Send("G28 Y"))
	assert.Equal(t, "G28 X", link.next(t))
	// nothing else until acknowledged
	link.quiet(t)
	link.in <- "ok"
	assert.Equal(t, "G28 Y", link.next(t))
	link.in <- "ok"
	link.quiet(t)
	assert.Equal(t, Inactive, c.State())
}

func TestManualCommandsBeforeRun(t *testing.T) {
	c, link, evs := connected(t, Config{})
	require.NoError(t, c.Send("G28 Z"))
	assert.Equal(t, "G28 Z", link.next(t))
	require.NoError(t, c.Send("M118 hello"))
	require.NoError(t, c.Home())
	link.in <- "ok"
	assert.Equal(t, "M118 hello", link.next(t))
	link.in <- "ok"
	for _, want := range []string{"G90", "G28 Z", "G28 X Y"} {
		assert.Equal(t, want, link.next(t))
		link.in <- "ok"
	}
	evs.waitFor(t, func(ev Event) bool { return ev.Kind == StateChanged && ev.State == Inactive })
}

func TestStopFinishesCurrentTask(t *testing.T) {
	c, link, evs := connected(t, Config{})
	first, _ := task.New([]string{"G1 X1", "G1 X2"})
	second, _ := task.New([]string{"G1 X3"})
	require.NoError(t, c.Start(first, second))
	assert.ErrorIs(t, c.Start(second), ErrBusy)

	assert.Equal(t, "G1 X1", link.next(t))
	require.NoError(t, c.Stop())
	link.in <- "ok"
	assert.Equal(t, "G1 X2", link.next(t))
	link.in <- "ok"
	evs.waitState(t, Inactive)
	link.quiet(t)
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
}

func TestPauseHoldsTasks(t *testing.T) {
	c, link, _ := connected(t, Config{})
	tk, _ := task.New([]string{"G1 X1", "G1 X2"})
	require.NoError(t, c.Start(tk))
	assert.Equal(t, "G1 X1", link.next(t))
	require.NoError(t, c.Pause())
	assert.True(t, c.Paused())
	link.in <- "ok"
	link.quiet(t)

	require.NoError(t, c.Send("M118 paused"))
	assert.Equal(t, "M118 paused", link.next(t))
	link.in <- "ok"
	link.quiet(t)

	require.NoError(t, c.Resume())
	assert.Equal(t, "G1 X2", link.next(t))
	link.in <- "ok"
}

func TestDisconnectRules(t *testing.T) {
	c, link, evs := connected(t, Config{})
	assert.ErrorIs(t, c.Connect("fake"), ErrAlreadyConnected)
	tk, _ := task.New([]string{"G1 X1"})
	require.NoError(t, c.Start(tk))
	assert.ErrorIs(t, c.Disconnect(), ErrBusy)
	link.next(t)
	link.in <- "ok"
	evs.waitFor(t, func(ev Event) bool { return ev.Kind == StateChanged && ev.Prev == Active })

	require.NoError(t, c.Disconnect())
	assert.Equal(t, Unconnected, c.State())
	assert.ErrorIs(t, c.Disconnect(), ErrNotConnected)
	assert.ErrorIs(t, c.Start(tk), ErrNotConnected)

	// reconnecting starts fresh workers
	require.NoError(t, c.Connect("fake"))
	require.NoError(t, c.Send("G28"))
	assert.Equal(t, "G28", link.next(t))
	link.in <- "ok"
}

func TestLinkErrorForcesDisconnect(t *testing.T) {
	c, link, evs := connected(t, Config{})
	j := squareJob(t)
	link.mu.Lock()
	link.writeErr = errors.New("cable pulled")
	link.mu.Unlock()

	require.NoError(t, c.Run(jobSource(j), false))
	ev := evs.waitFor(t, func(ev Event) bool { return ev.Kind == LinkLost })
	assert.Contains(t, ev.Message, "cable pulled")
	evs.waitState(t, Unconnected)
	assert.Equal(t, Unconnected, c.State())
	assert.Empty(t, c.PendingTasks())
}

func TestAckTimeout(t *testing.T) {
	c, link, evs := connected(t, Config{AckTimeout: 30 * time.Millisecond})
	require.NoError(t, c.Send("G28"))
	assert.Equal(t, "G28", link.next(t))
	evs.waitFor(t, func(ev Event) bool { return ev.Kind == Incident })
	evs.waitFor(t, func(ev Event) bool { return ev.Kind == LinkLost })
	assert.Equal(t, Unconnected, c.State())
}

func TestTHCTelemetry(t *testing.T) {
	c, link, _ := connected(t, Config{})
	link.in <- "// echo: THC_error 1.5 2.5"
	link.in <- "// echo: THC_error 1.5 -0.5"
	link.in <- "echo: something else"
	require.Eventually(t, func() bool { return len(c.Log()) == 1 }, waitTimeout, time.Millisecond)
	assert.Equal(t, []float64{2.5, -0.5}, c.THCSamples())
	assert.Equal(t, "echo: something else", c.Log()[0].Text)
	assert.True(t, c.Log()[0].Received)
}

func TestRunFile(t *testing.T) {
	c, link, evs := connected(t, Config{})
	path := filepath.Join(t.TempDir(), "part.gcode")
	require.NoError(t, os.WriteFile(path, []byte("; header\nG90\n\nG1 X1 ; move\n"), 0o644))
	require.NoError(t, c.RunFile(path))
	assert.Equal(t, "G90", link.next(t))
	link.in <- "ok"
	assert.Equal(t, "G1 X1", link.next(t))
	link.in <- "ok"
	evs.waitState(t, Inactive)

	empty := filepath.Join(t.TempDir(), "empty.gcode")
	require.NoError(t, os.WriteFile(empty, []byte("; nothing\n"), 0o644))
	assert.ErrorIs(t, c.RunFile(empty), ErrNothingToRun)
}
