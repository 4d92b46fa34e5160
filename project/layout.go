package project

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r2"
	"gopkg.in/yaml.v3"

	"github.com/kerfworks/kerf/job"
)

// layout is the YAML sidecar keeping the placement, the parameters and
// the progress of the jobs of a project.
type layout struct {
	Jobs []jobLayout `yaml:"jobs"`
}

type jobLayout struct {
	Name      string     `yaml:"name"`
	Position  [2]float64 `yaml:"position,flow"`
	Angle     float64    `yaml:"angle"`
	Scale     float64    `yaml:"scale"`
	Params    job.Params `yaml:"params"`
	CutStates []string   `yaml:"cut_states,flow"`
}

// WriteLayout stores the placement, parameters and cut states of every
// job.
func (p *Project) WriteLayout(w io.Writer) error {
	var l layout
	for _, j := range p.Jobs() {
		pos := j.Position()
		jl := jobLayout{
			Name:     j.Name(),
			Position: [2]float64{pos.X, pos.Y},
			Angle:    j.Angle(),
			Scale:    j.Scale(),
			Params:   j.Params(),
		}
		for _, s := range j.CutStates() {
			jl.CutStates = append(jl.CutStates, s.String())
		}
		l.Jobs = append(l.Jobs, jl)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return err
	}
	return enc.Close()
}

// ApplyLayout restores a layout written by WriteLayout onto the jobs of
// the same name. Cut states are restored only when the cut count still
// matches. It returns the number of jobs updated.
func (p *Project) ApplyLayout(r io.Reader) (int, error) {
	var l layout
	if err := yaml.NewDecoder(r).Decode(&l); err != nil {
		return 0, fmt.Errorf("decoding layout: %w", err)
	}
	byName := map[string]*job.Job{}
	for _, j := range p.Jobs() {
		byName[j.Name()] = j
	}
	n := 0
	for _, jl := range l.Jobs {
		j, ok := byName[jl.Name]
		if !ok {
			log.Warn().Str("job", jl.Name).Msg("layout-job-missing")
			continue
		}
		if err := j.SetParams(jl.Params); err != nil {
			return n, fmt.Errorf("job %s: %w", jl.Name, err)
		}
		if err := j.SetScale(jl.Scale); err != nil {
			return n, fmt.Errorf("job %s: %w", jl.Name, err)
		}
		j.SetAngle(jl.Angle)
		j.SetPosition(r2.Vec{X: jl.Position[0], Y: jl.Position[1]})
		if len(jl.CutStates) == j.CutCount() {
			for i, name := range jl.CutStates {
				s, err := job.ParseCutState(name)
				if err != nil {
					return n, fmt.Errorf("job %s: %w", jl.Name, err)
				}
				if err := j.SetCutState(i, s); err != nil {
					return n, fmt.Errorf("job %s: %w", jl.Name, err)
				}
			}
		}
		n++
	}
	return n, nil
}
