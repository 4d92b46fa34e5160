package postproc

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
	"github.com/kerfworks/kerf/job"
)

func squareJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New("square", []*geometry.Polyline{
		geometry.Rectangle(r2.Box{Max: r2.Vec{X: 100, Y: 100}}),
	}, job.DefaultParams())
	require.NoError(t, err)
	return j
}

func count(cmds []string, want string) int {
	n := 0
	for _, c := range cmds {
		if c == want {
			n++
		}
	}
	return n
}

func TestRealRunSequence(t *testing.T) {
	is := is.New(t)
	pp := New(DefaultConfig())
	cmds, err := pp.Commands(squareJob(t), 0, false)
	is.NoErr(err)

	is.Equal(cmds[0], "G90")
	is.Equal(count(cmds, "PROBE"), 1)
	is.Equal(count(cmds, "M3"), 1)
	is.Equal(count(cmds, "G4 P500"), 1)
	is.Equal(cmds[len(cmds)-3:], []string{"M7", "M5", "M8"})

	// the torch is lit after probing
	probe, m3 := -1, -1
	for i, c := range cmds {
		switch c {
		case "PROBE":
			probe = i
		case "M3":
			m3 = i
		}
	}
	is.True(probe < m3)
	is.True(count(cmds, "M6 V150.00 T4000") == 1)
	is.True(count(cmds, "G1 F5000") == 1)
}

func TestDryRunSequence(t *testing.T) {
	pp := New(DefaultConfig())
	cmds, err := pp.Commands(squareJob(t), 0, true)
	require.NoError(t, err)
	assert.Equal(t, 0, count(cmds, "M3"))
	assert.Equal(t, 1, count(cmds, "PROBE"))
	assert.Equal(t, 1, count(cmds, "M6 V0.00"))
	for _, c := range cmds {
		assert.False(t, strings.HasPrefix(c, "G4"), c)
	}
	assert.Equal(t, []string{"M7", "M5", "M8"}, cmds[len(cmds)-3:])
}

func TestArcMoves(t *testing.T) {
	pp := New(DefaultConfig())
	circle := geometry.Circle(r2.Vec{X: 10, Y: 10}, 5)
	moves := pp.moves(circle)
	require.Len(t, moves, 2)
	assert.Equal(t, "G3 X15.000 Y10.000 I5.000 J0.000", moves[0])
	assert.Equal(t, "G3 X5.000 Y10.000 I-5.000 J0.000", moves[1])

	cw := circle.Reverse()
	for _, m := range pp.moves(cw) {
		assert.True(t, strings.HasPrefix(m, "G2 "), m)
	}

	// sub-millimeter arcs are cut straight
	tiny := geometry.Circle(r2.Vec{}, 0.2)
	for _, m := range pp.moves(tiny) {
		assert.True(t, strings.HasPrefix(m, "G1 "), m)
	}
}

func TestArcCenter(t *testing.T) {
	// quarter circle from (1,0) to (0,1) around the origin
	b := math.Tan(math.Pi / 8)
	c := arcCenter(r2.Vec{X: 1}, r2.Vec{Y: 1}, b)
	assert.InDelta(t, 0, c.X, 1e-12)
	assert.InDelta(t, 0, c.Y, 1e-12)

	// three quarters the other way round has its center across the chord
	c = arcCenter(r2.Vec{X: 1}, r2.Vec{Y: 1}, -math.Tan(3*math.Pi/8))
	assert.InDelta(t, 0, c.X, 1e-12)
	assert.InDelta(t, 0, c.Y, 1e-12)

	c = arcCenter(r2.Vec{X: 1}, r2.Vec{Y: 1}, -b)
	assert.InDelta(t, 1, c.X, 1e-12)
	assert.InDelta(t, 1, c.Y, 1e-12)
}

func TestGenerateTracksState(t *testing.T) {
	is := is.New(t)
	pp := New(DefaultConfig())
	j := squareJob(t)
	tk, err := pp.Generate(j, 0, false)
	is.NoErr(err)
	for {
		if _, err := tk.Pop(); err != nil {
			break
		}
	}
	tk.Close()
	s, _ := j.CutState(0)
	is.Equal(s, job.Done)

	_, err = pp.Generate(j, 3, false)
	is.True(err != nil)
}

func TestExport(t *testing.T) {
	pp := New(DefaultConfig())
	j := squareJob(t)
	var buf bytes.Buffer
	require.NoError(t, pp.Export(&buf, []*job.Job{j}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"G90", "G28 Z", "G28 X Y"}, lines[:3])
	assert.Equal(t, "M8", lines[len(lines)-1])

	require.NoError(t, j.SetCutState(0, job.Done))
	buf.Reset()
	assert.ErrorIs(t, pp.Export(&buf, []*job.Job{j}), ErrNothingToExport)
}

func TestFixedTasks(t *testing.T) {
	pp := New(DefaultConfig())
	assert.Equal(t, []string{"G90", "G28 Z", "G28 X Y"}, pp.InitTask().Commands())
	assert.Equal(t, []string{"M7", "M5", "M8", "G90", "G1 Z20"}, pp.EmergencyTask().Commands())
}
