package job

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
)

// Stage identifies one transform of the job shape.
type Stage int

const (
	StageRoot Stage = iota
	StageDirection
	StageScale
	StageOffset
	StageLead
	StageLoop
	StageCutLines
	StageCutPlaced
	StageCutPath
	StagePartLines
	StagePartPlaced
	numStages
)

var stageNames = [numStages]string{
	"root", "direction", "scale", "offset", "lead", "loop",
	"cut-lines", "cut-placed", "cut-path", "part-lines", "part-placed",
}

func (s Stage) String() string {
	if s < 0 || s >= numStages {
		return "unknown"
	}
	return stageNames[s]
}

// parent of every stage; the root is its own parent.
var parent = [numStages]Stage{
	StageRoot:       StageRoot,
	StageDirection:  StageRoot,
	StageScale:      StageDirection,
	StageOffset:     StageScale,
	StageLead:       StageOffset,
	StageLoop:       StageLead,
	StageCutLines:   StageLoop,
	StageCutPlaced:  StageCutLines,
	StageCutPath:    StageLoop,
	StagePartLines:  StageScale,
	StagePartPlaced: StagePartLines,
}

var children [numStages][]Stage

func init() {
	for s := StageDirection; s < numStages; s++ {
		children[parent[s]] = append(children[parent[s]], s)
	}
}

// value is the output of a stage: polylines or discretized point lists.
type value struct {
	plines []*geometry.Polyline
	lines  [][]r2.Vec
}

type stageFunc func(in value) value

// pipeline memoizes stage outputs. A dirty stage is recomputed from its
// parent the next time it is read.
type pipeline struct {
	cache   [numStages]value
	dirty   [numStages]bool
	compute [numStages]stageFunc
	runs    [numStages]int
}

func newPipeline(root []*geometry.Polyline) *pipeline {
	p := &pipeline{}
	p.cache[StageRoot] = value{plines: root}
	for s := StageDirection; s < numStages; s++ {
		p.dirty[s] = true
	}
	return p
}

// invalidate marks s and every stage derived from it.
func (p *pipeline) invalidate(s Stage) {
	p.dirty[s] = true
	for _, c := range children[s] {
		p.invalidate(c)
	}
}

func (p *pipeline) get(s Stage) value {
	if s == StageRoot || !p.dirty[s] {
		return p.cache[s]
	}
	in := p.get(parent[s])
	p.cache[s] = p.compute[s](in)
	p.dirty[s] = false
	p.runs[s]++
	return p.cache[s]
}
