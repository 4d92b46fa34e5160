// Package postproc turns job contours into G-code command sequences.
package postproc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
	"github.com/kerfworks/kerf/job"
	"github.com/kerfworks/kerf/task"
)

var ErrNothingToExport = errors.New("no cut to export")

// Config holds the machine heights and speeds used around each cut.
type Config struct {
	// SafeZ is the absolute travel height.
	SafeZ float64 `yaml:"safe_z"`
	// PierceZ is the height above the probed surface while piercing.
	PierceZ float64 `yaml:"pierce_z"`
	// CutZ is the relative move from pierce to cut height.
	CutZ float64 `yaml:"cut_z"`
	// RetractZ is the absolute height the torch lifts to once a cut ends.
	RetractZ       float64 `yaml:"retract_z"`
	TravelFeedrate float64 `yaml:"travel_feedrate"`
	// THCRatio scales the cut feedrate into the speed above which the
	// torch height control engages.
	THCRatio float64 `yaml:"thc_ratio"`
	// MinArcChord is the chord under which arcs are cut as lines.
	MinArcChord float64 `yaml:"min_arc_chord"`
}

func DefaultConfig() Config {
	return Config{
		SafeZ:          20,
		PierceZ:        3.8,
		CutZ:           -2.3,
		RetractZ:       20,
		TravelFeedrate: 6000,
		THCRatio:       0.8,
		MinArcChord:    1,
	}
}

type PostProcessor struct {
	cfg Config
}

func New(cfg Config) *PostProcessor {
	return &PostProcessor{cfg: cfg}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func xy(p r2.Vec) string {
	return fmt.Sprintf("X%.3f Y%.3f", p.X, p.Y)
}

// StartSequence homes the machine in absolute mode.
func (pp *PostProcessor) StartSequence() []string {
	return []string{"G90", "G28 Z", "G28 X Y"}
}

// InitTask returns the homing task.
func (pp *PostProcessor) InitTask() *task.Task {
	t, _ := task.New(pp.StartSequence())
	return t
}

// EmergencySequence switches the torch off and lifts it.
func (pp *PostProcessor) EmergencySequence() []string {
	return []string{"M7", "M5", "M8", "G90", "G1 Z" + num(pp.cfg.SafeZ)}
}

func (pp *PostProcessor) EmergencyTask() *task.Task {
	t, _ := task.New(pp.EmergencySequence())
	return t
}

// Commands returns the G-code cutting contour cut of j.
func (pp *PostProcessor) Commands(j *job.Job, cut int, dryRun bool) ([]string, error) {
	paths := j.CutPolylines()
	if cut < 0 || cut >= len(paths) {
		return nil, fmt.Errorf("%w: %d of %d", job.ErrCutIndex, cut, len(paths))
	}
	path := paths[cut]
	if path.Empty() {
		return nil, geometry.ErrEmptyGeometry
	}
	params := j.Params()
	start := path.Vertex(0).Pos()

	cmds := []string{
		"G90",
		"G1 Z" + num(pp.cfg.SafeZ),
		"G1 F" + num(pp.cfg.TravelFeedrate) + " " + xy(start),
		"PROBE",
		"G91",
		"G1 Z" + num(pp.cfg.PierceZ),
	}
	if dryRun {
		cmds = append(cmds,
			"G90",
			"M6 V0.00",
		)
	} else {
		cmds = append(cmds,
			"M3",
			"G4 P"+num(params.PierceDelay),
			"G1 Z"+num(pp.cfg.CutZ),
			"G90",
			fmt.Sprintf("M6 V%.2f T%.0f", params.ArcVoltage, params.Feedrate*pp.cfg.THCRatio),
		)
	}
	cmds = append(cmds, "G1 F"+num(params.Feedrate))
	cmds = append(cmds, pp.moves(path)...)
	if !dryRun {
		cmds = append(cmds, "G1 Z"+num(pp.cfg.RetractZ))
	}
	return append(cmds, "M7", "M5", "M8"), nil
}

// moves emits one motion command per segment of path.
func (pp *PostProcessor) moves(path *geometry.Polyline) []string {
	n := path.Len()
	count := n - 1
	if path.Closed() {
		count = n
	}
	cmds := make([]string, 0, count)
	for i := 0; i < count; i++ {
		v := path.Vertex(i)
		a := v.Pos()
		b := path.Vertex((i + 1) % n).Pos()
		chord := r2.Norm(r2.Sub(b, a))
		if math.Abs(v.Bulge) < 1e-8 || chord < pp.cfg.MinArcChord {
			cmds = append(cmds, "G1 "+xy(b))
			continue
		}
		c := arcCenter(a, b, v.Bulge)
		code := "G3"
		if v.Bulge < 0 {
			code = "G2"
		}
		cmds = append(cmds, fmt.Sprintf("%s %s I%.3f J%.3f", code, xy(b), c.X-a.X, c.Y-a.Y))
	}
	return cmds
}

// arcCenter returns the center of the arc from a to b with the given
// bulge.
func arcCenter(a, b r2.Vec, bulge float64) r2.Vec {
	chord := r2.Sub(b, a)
	c := r2.Norm(chord)
	sweep := 4 * math.Atan(bulge)
	radius := c / (2 * math.Abs(math.Sin(sweep/2)))
	h := radius * math.Cos(sweep/2) * math.Copysign(1, sweep)
	left := r2.Vec{X: -chord.Y / c, Y: chord.X / c}
	return r2.Add(r2.Add(a, r2.Scale(0.5, chord)), r2.Scale(h, left))
}

// Generate wraps the commands of one cut into a task that tracks the
// cut state.
func (pp *PostProcessor) Generate(j *job.Job, cut int, dryRun bool) (*task.JobTask, error) {
	cmds, err := pp.Commands(j, cut, dryRun)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.Name(), err)
	}
	return task.NewJobTask(cmds, j, cut, dryRun)
}

// Export writes the start sequence and every TODO cut of jobs to w, one
// command per line.
func (pp *PostProcessor) Export(w io.Writer, jobs []*job.Job) error {
	bw := bufio.NewWriter(w)
	written := 0
	write := func(cmds []string) error {
		for _, c := range cmds {
			if _, err := bw.WriteString(c + "\n"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(pp.StartSequence()); err != nil {
		return err
	}
	for _, j := range jobs {
		for _, cut := range j.CutStateIndices(job.Todo) {
			cmds, err := pp.Commands(j, cut, false)
			if err != nil {
				return fmt.Errorf("job %s: %w", j.Name(), err)
			}
			if err := write(cmds); err != nil {
				return err
			}
			written++
		}
	}
	if written == 0 {
		return ErrNothingToExport
	}
	return bw.Flush()
}
