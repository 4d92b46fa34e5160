// Package job holds cut jobs: a multi-contour shape placed on the table,
// its cutting parameters, and the per-contour execution state.
package job

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
)

var (
	ErrUnknownCutState = errors.New("unknown cut state")
	ErrCutIndex        = errors.New("cut index out of range")
	ErrInvalidParam    = errors.New("invalid parameter")
)

// LoopLimitAngle is the sharpest corner, in radians, cut without a loop.
const LoopLimitAngle = 121 * math.Pi / 180

// Params are the cutting parameters of a job.
type Params struct {
	KerfWidth         float64 `yaml:"kerf_width"`
	ArcVoltage        float64 `yaml:"arc_voltage"`
	Feedrate          float64 `yaml:"feedrate"`
	PierceDelay       float64 `yaml:"pierce_delay"`
	LoopRadius        float64 `yaml:"loop_radius"`
	ExteriorClockwise bool    `yaml:"exterior_clockwise"`
}

func DefaultParams() Params {
	return Params{
		KerfWidth:         1.5,
		ArcVoltage:        150,
		Feedrate:          5000,
		PierceDelay:       500,
		LoopRadius:        1.5,
		ExteriorClockwise: true,
	}
}

func (p Params) Validate() error {
	switch {
	case p.KerfWidth < 0:
		return fmt.Errorf("%w: kerf width %v", ErrInvalidParam, p.KerfWidth)
	case p.ArcVoltage < 0:
		return fmt.Errorf("%w: arc voltage %v", ErrInvalidParam, p.ArcVoltage)
	case p.Feedrate <= 0:
		return fmt.Errorf("%w: feedrate %v", ErrInvalidParam, p.Feedrate)
	case p.PierceDelay < 0:
		return fmt.Errorf("%w: pierce delay %v", ErrInvalidParam, p.PierceDelay)
	case p.LoopRadius < 0:
		return fmt.Errorf("%w: loop radius %v", ErrInvalidParam, p.LoopRadius)
	}
	return nil
}

// Job is one part on the table. Its contours list the holes first and
// the exterior last. All methods are safe for concurrent use.
type Job struct {
	mu sync.Mutex

	name     string
	index    int
	position r2.Vec
	angle    float64
	scale    float64
	params   Params

	cutStates []CutState
	leadPos   []float64

	pipe      *pipeline
	listeners []Listener
	pending   []Event
}

// New creates a job from the contours of one part.
func New(name string, contours []*geometry.Polyline, params Params) (*Job, error) {
	contours = lo.Filter(contours, func(p *geometry.Polyline, _ int) bool { return !p.Empty() })
	if len(contours) == 0 {
		return nil, geometry.ErrEmptyGeometry
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		name:   name,
		scale:  1,
		params: params,
		pipe:   newPipeline(contours),
	}
	j.pipe.compute = [numStages]stageFunc{
		StageDirection:  j.applyDirection,
		StageScale:      j.applyScale,
		StageOffset:     j.applyOffset,
		StageLead:       j.applyLead,
		StageLoop:       j.applyLoop,
		StageCutLines:   toLines,
		StageCutPlaced:  j.placeLines,
		StageCutPath:    j.placePolylines,
		StagePartLines:  partLines,
		StagePartPlaced: j.placeLines,
	}
	j.pipe.get(StageOffset)
	j.pending = nil
	return j, nil
}

// Subscribe registers l for every later change of the job.
func (j *Job) Subscribe(l Listener) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.listeners = append(j.listeners, l)
}

func (j *Job) queue(evs ...Event) {
	for i := range evs {
		evs[i].Job = j
	}
	j.pending = append(j.pending, evs...)
}

// flush delivers queued events outside of the lock.
func (j *Job) flush() {
	j.mu.Lock()
	evs := j.pending
	j.pending = nil
	ls := append([]Listener(nil), j.listeners...)
	j.mu.Unlock()
	for _, ev := range evs {
		for _, l := range ls {
			l(ev)
		}
	}
}

// update runs fn under the lock, then delivers the events it queued.
func (j *Job) update(fn func() error) error {
	j.mu.Lock()
	err := fn()
	j.mu.Unlock()
	j.flush()
	return err
}

// setParam applies fn and invalidates stage; StageRoot invalidates nothing.
func (j *Job) setParam(name string, stage Stage, shape bool, fn func()) {
	j.update(func() error {
		fn()
		if stage != StageRoot {
			j.pipe.invalidate(stage)
		}
		j.queue(Event{Kind: ParamChanged, Param: name})
		if shape {
			j.queue(Event{Kind: ShapeChanged})
		}
		return nil
	})
}

func (j *Job) Name() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.name
}

func (j *Job) SetName(name string) {
	j.setParam("name", StageRoot, false, func() { j.name = name })
}

func (j *Job) Index() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.index
}

func (j *Job) SetIndex(i int) {
	j.setParam("index", StageRoot, false, func() { j.index = i })
}

func (j *Job) Params() Params {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.params
}

func (j *Job) Position() r2.Vec {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.position
}

func (j *Job) SetPosition(p r2.Vec) {
	j.setParam("position", StageRoot, true, func() {
		j.position = p
		j.invalidatePlacement()
	})
}

// Angle returns the rotation in radians.
func (j *Job) Angle() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.angle
}

func (j *Job) SetAngle(rad float64) {
	j.setParam("angle", StageRoot, true, func() {
		j.angle = rad
		j.invalidatePlacement()
	})
}

// TurnAround rotates the placed job by rad around center.
func (j *Job) TurnAround(center r2.Vec, rad float64) {
	j.setParam("angle", StageRoot, true, func() {
		j.position = r2.Add(center, r2.Rotate(r2.Sub(j.position, center), rad, r2.Vec{}))
		j.angle += rad
		j.invalidatePlacement()
	})
}

func (j *Job) invalidatePlacement() {
	j.pipe.invalidate(StageCutPlaced)
	j.pipe.invalidate(StageCutPath)
	j.pipe.invalidate(StagePartPlaced)
}

func (j *Job) Scale() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.scale
}

func (j *Job) SetScale(s float64) error {
	if s <= 0 {
		return fmt.Errorf("%w: scale %v", ErrInvalidParam, s)
	}
	j.setParam("scale", StageScale, true, func() { j.scale = s })
	return nil
}

// ScaleAround scales the placed job by factor around center.
func (j *Job) ScaleAround(center r2.Vec, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("%w: scale factor %v", ErrInvalidParam, factor)
	}
	j.setParam("scale", StageScale, true, func() {
		j.position = r2.Add(center, r2.Scale(factor, r2.Sub(j.position, center)))
		j.scale *= factor
		j.invalidatePlacement()
	})
	return nil
}

func (j *Job) SetExteriorClockwise(cw bool) {
	j.setParam("exterior_clockwise", StageDirection, true, func() { j.params.ExteriorClockwise = cw })
}

func (j *Job) SetKerfWidth(w float64) error {
	if w < 0 {
		return fmt.Errorf("%w: kerf width %v", ErrInvalidParam, w)
	}
	j.setParam("kerf_width", StageOffset, true, func() { j.params.KerfWidth = w })
	return nil
}

func (j *Job) SetLoopRadius(r float64) error {
	if r < 0 {
		return fmt.Errorf("%w: loop radius %v", ErrInvalidParam, r)
	}
	j.setParam("loop_radius", StageLoop, true, func() { j.params.LoopRadius = r })
	return nil
}

func (j *Job) SetArcVoltage(v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: arc voltage %v", ErrInvalidParam, v)
	}
	j.setParam("arc_voltage", StageRoot, false, func() { j.params.ArcVoltage = v })
	return nil
}

func (j *Job) SetFeedrate(f float64) error {
	if f <= 0 {
		return fmt.Errorf("%w: feedrate %v", ErrInvalidParam, f)
	}
	j.setParam("feedrate", StageRoot, false, func() { j.params.Feedrate = f })
	return nil
}

func (j *Job) SetPierceDelay(ms float64) error {
	if ms < 0 {
		return fmt.Errorf("%w: pierce delay %v", ErrInvalidParam, ms)
	}
	j.setParam("pierce_delay", StageRoot, false, func() { j.params.PierceDelay = ms })
	return nil
}

// SetParams replaces every cutting parameter at once.
func (j *Job) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	j.setParam("params", StageDirection, true, func() { j.params = p })
	return nil
}

// CutCount is the number of contours cut independently.
func (j *Job) CutCount() int {
	var n int
	j.update(func() error {
		j.pipe.get(StageOffset)
		n = len(j.cutStates)
		return nil
	})
	return n
}

// CutStates returns a copy of the state of every cut.
func (j *Job) CutStates() []CutState {
	var out []CutState
	j.update(func() error {
		j.pipe.get(StageOffset)
		out = append([]CutState(nil), j.cutStates...)
		return nil
	})
	return out
}

func (j *Job) CutState(i int) (CutState, error) {
	var s CutState
	err := j.update(func() error {
		j.pipe.get(StageOffset)
		if i < 0 || i >= len(j.cutStates) {
			return fmt.Errorf("%w: %d of %d", ErrCutIndex, i, len(j.cutStates))
		}
		s = j.cutStates[i]
		return nil
	})
	return s, err
}

func (j *Job) SetCutState(i int, s CutState) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCutState, int(s))
	}
	return j.update(func() error {
		j.pipe.get(StageOffset)
		if i < 0 || i >= len(j.cutStates) {
			return fmt.Errorf("%w: %d of %d", ErrCutIndex, i, len(j.cutStates))
		}
		if j.cutStates[i] == s {
			return nil
		}
		j.cutStates[i] = s
		j.queue(Event{Kind: StateChanged, Cut: i, State: s})
		return nil
	})
}

// ResetCutStates sets every cut back to TODO.
func (j *Job) ResetCutStates() {
	j.update(func() error {
		j.pipe.get(StageOffset)
		for i := range j.cutStates {
			j.cutStates[i] = Todo
		}
		j.queue(Event{Kind: StateChanged, Cut: -1, State: Todo})
		return nil
	})
}

// CutStateIndex returns the first cut in state s, or -1.
func (j *Job) CutStateIndex(s CutState) int {
	return lo.IndexOf(j.CutStates(), s)
}

// CutStateIndices returns every cut in state s.
func (j *Job) CutStateIndices(s CutState) []int {
	var out []int
	for i, cs := range j.CutStates() {
		if cs == s {
			out = append(out, i)
		}
	}
	return out
}

// LeadPos returns the lead-in position of cut i, as a fraction of its
// length.
func (j *Job) LeadPos(i int) (float64, error) {
	var pos float64
	err := j.update(func() error {
		j.pipe.get(StageOffset)
		if i < 0 || i >= len(j.leadPos) {
			return fmt.Errorf("%w: %d of %d", ErrCutIndex, i, len(j.leadPos))
		}
		pos = j.leadPos[i]
		return nil
	})
	return pos, err
}

func (j *Job) SetLeadPos(i int, pos float64) error {
	return j.update(func() error {
		j.pipe.get(StageOffset)
		if i < 0 || i >= len(j.leadPos) {
			return fmt.Errorf("%w: %d of %d", ErrCutIndex, i, len(j.leadPos))
		}
		j.leadPos[i] = pos
		j.pipe.invalidate(StageLead)
		j.queue(Event{Kind: ParamChanged, Param: "lead_pos"}, Event{Kind: ShapeChanged})
		return nil
	})
}

// Contours returns the source contours, holes first.
func (j *Job) Contours() []*geometry.Polyline {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*geometry.Polyline(nil), j.pipe.get(StageRoot).plines...)
}

// IsClosed reports whether the exterior contour is closed.
func (j *Job) IsClosed() bool {
	root := j.Contours()
	return root[len(root)-1].Closed()
}

// CutPolylines returns the placed cut contours in cutting order.
func (j *Job) CutPolylines() []*geometry.Polyline {
	return j.stagePolylines(StageCutPath)
}

// CutPaths returns the placed, discretized cut contours.
func (j *Job) CutPaths() [][]r2.Vec {
	return j.stageLines(StageCutPlaced)
}

// ShapePaths returns the placed, discretized part outline.
func (j *Job) ShapePaths() [][]r2.Vec {
	return j.stageLines(StagePartPlaced)
}

func (j *Job) stagePolylines(s Stage) []*geometry.Polyline {
	var out []*geometry.Polyline
	j.update(func() error {
		out = append(out, j.pipe.get(s).plines...)
		return nil
	})
	return out
}

func (j *Job) stageLines(s Stage) [][]r2.Vec {
	var out [][]r2.Vec
	j.update(func() error {
		out = append(out, j.pipe.get(s).lines...)
		return nil
	})
	return out
}

// Bounds returns the bounding box of the placed part outline.
func (j *Job) Bounds() r2.Box {
	var box r2.Box
	first := true
	for _, line := range j.ShapePaths() {
		for _, p := range line {
			if first {
				box = r2.Box{Min: p, Max: p}
				first = false
				continue
			}
			box = geometry.UnionBox(box, r2.Box{Min: p, Max: p})
		}
	}
	return box
}

func (j *Job) Size() r2.Vec {
	return j.Bounds().Size()
}

// Centroid returns the placed centroid of the exterior contour.
func (j *Job) Centroid() r2.Vec {
	j.mu.Lock()
	defer j.mu.Unlock()
	root := j.pipe.get(StageRoot).plines
	c := root[len(root)-1].Centroid()
	return j.place(c)
}

func (j *Job) place(p r2.Vec) r2.Vec {
	return r2.Add(j.position, r2.Rotate(p, j.angle, r2.Vec{}))
}

// Stage functions, called with the lock held.

func (j *Job) applyDirection(in value) value {
	out := make([]*geometry.Polyline, len(in.plines))
	last := len(in.plines) - 1
	for i, p := range in.plines {
		out[i] = p
		if !p.Closed() {
			continue
		}
		exterior := i == last
		if (exterior && p.IsCCW() == j.params.ExteriorClockwise) ||
			(!exterior && p.IsCCW() != j.params.ExteriorClockwise) {
			out[i] = p.Reverse()
		}
	}
	return value{plines: out}
}

func (j *Job) applyScale(in value) value {
	if j.scale == 1 {
		return in
	}
	out := make([]*geometry.Polyline, len(in.plines))
	for i, p := range in.plines {
		out[i] = p.Affine(r2.Vec{}, 0, j.scale)
	}
	return value{plines: out}
}

func (j *Job) offsetDistance() float64 {
	d := j.params.KerfWidth / 2
	if j.params.ExteriorClockwise {
		return -d
	}
	return d
}

func (j *Job) applyOffset(in value) value {
	d := j.offsetDistance()
	var out []*geometry.Polyline
	for _, p := range in.plines {
		if !p.Closed() {
			out = append(out, p)
			continue
		}
		out = append(out, p.Offset(d)...)
	}
	if len(out) != len(j.cutStates) {
		if j.cutStates != nil {
			log.Info().Str("job", j.name).Int("was", len(j.cutStates)).Int("now", len(out)).
				Msg("cut-count-changed")
		}
		j.cutStates = make([]CutState, len(out))
		j.leadPos = make([]float64, len(out))
		j.queue(Event{Kind: StateChanged, Cut: -1, State: Todo})
	}
	return value{plines: out}
}

// applyLead is the hook for lead-in placement; cuts start at their first
// vertex.
func (j *Job) applyLead(in value) value {
	return in
}

func (j *Job) applyLoop(in value) value {
	out := make([]*geometry.Polyline, len(in.plines))
	for i, p := range in.plines {
		out[i] = p.Loop(LoopLimitAngle, j.params.KerfWidth/2, j.params.LoopRadius)
	}
	return value{plines: out}
}

func toLines(in value) value {
	out := make([][]r2.Vec, len(in.plines))
	for i, p := range in.plines {
		out[i] = p.ToLines()
	}
	return value{lines: out}
}

// partLines discretizes the unoffset shape, keeping only closed contours
// when there are several.
func partLines(in value) value {
	plines := in.plines
	if len(plines) > 1 {
		plines = lo.Filter(plines, func(p *geometry.Polyline, _ int) bool { return p.Closed() })
	}
	return toLines(value{plines: plines})
}

func (j *Job) placeLines(in value) value {
	out := make([][]r2.Vec, len(in.lines))
	for i, line := range in.lines {
		placed := make([]r2.Vec, len(line))
		for k, p := range line {
			placed[k] = j.place(p)
		}
		out[i] = placed
	}
	return value{lines: out}
}

func (j *Job) placePolylines(in value) value {
	deg := j.angle * 180 / math.Pi
	out := make([]*geometry.Polyline, len(in.plines))
	for i, p := range in.plines {
		out[i] = p.Affine(j.position, deg, 1)
	}
	return value{plines: out}
}
