// Package project holds the jobs laid out on the worktable.
package project

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/cache"
	"github.com/kerfworks/kerf/geometry"
	"github.com/kerfworks/kerf/job"
	"github.com/kerfworks/kerf/loader"
	"github.com/kerfworks/kerf/postproc"
	"github.com/kerfworks/kerf/task"
)

var (
	ErrNoJob       = errors.New("no such job")
	ErrNoSelection = errors.New("no job selected")
)

// Project is the ordered collection of jobs on the table. All methods
// are safe for concurrent use.
type Project struct {
	mu        sync.Mutex
	defaults  job.Params
	jobs      []*job.Job
	selected  map[*job.Job]bool
	watched   map[*job.Job]bool
	listeners []job.Listener
	drawings  *cache.Files[[]*geometry.Polyline]
}

func New(defaults job.Params) *Project {
	return &Project{
		defaults: defaults,
		selected: map[*job.Job]bool{},
		watched:  map[*job.Job]bool{},
		drawings: cache.NewFiles(loader.Load),
	}
}

func (p *Project) Defaults() job.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaults
}

// SetDefaults changes the parameters of jobs loaded later.
func (p *Project) SetDefaults(params job.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = params
	return nil
}

// Subscribe registers l for the events of every job of the project,
// including jobs added later.
func (p *Project) Subscribe(l job.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Project) forward(ev job.Event) {
	p.mu.Lock()
	if !slices.Contains(p.jobs, ev.Job) {
		p.mu.Unlock()
		return
	}
	ls := slices.Clone(p.listeners)
	p.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Jobs returns the jobs sorted by index.
func (p *Project) Jobs() []*job.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sorted()
}

func (p *Project) sorted() []*job.Job {
	out := slices.Clone(p.jobs)
	slices.SortStableFunc(out, func(a, b *job.Job) int { return a.Index() - b.Index() })
	return out
}

// Job returns the i-th job in index order.
func (p *Project) Job(i int) (*job.Job, error) {
	jobs := p.Jobs()
	if i < 0 || i >= len(jobs) {
		return nil, fmt.Errorf("%w: %d", ErrNoJob, i)
	}
	return jobs[i], nil
}

// Add appends jobs after the existing ones.
func (p *Project) Add(jobs ...*job.Job) {
	p.mu.Lock()
	next := 0
	for _, j := range p.jobs {
		next = max(next, j.Index()+1)
	}
	var added, watch []*job.Job
	for _, j := range jobs {
		if slices.Contains(p.jobs, j) {
			continue
		}
		p.jobs = append(p.jobs, j)
		added = append(added, j)
		if !p.watched[j] {
			p.watched[j] = true
			watch = append(watch, j)
		}
	}
	p.mu.Unlock()

	for i, j := range added {
		j.SetIndex(next + i)
	}
	for _, j := range watch {
		j.Subscribe(p.forward)
	}
}

// Remove drops jobs from the project. Their events are no longer
// forwarded.
func (p *Project) Remove(jobs ...*job.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = lo.Without(p.jobs, jobs...)
	for _, j := range jobs {
		delete(p.selected, j)
	}
}

func (p *Project) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = nil
	clear(p.selected)
}

// Select replaces the selection by the jobs at the given positions in
// index order.
func (p *Project) Select(idx ...int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := p.sorted()
	sel := map[*job.Job]bool{}
	for _, i := range idx {
		if i < 0 || i >= len(jobs) {
			return fmt.Errorf("%w: %d", ErrNoJob, i)
		}
		sel[jobs[i]] = true
	}
	p.selected = sel
	return nil
}

func (p *Project) SelectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range p.jobs {
		p.selected[j] = true
	}
}

// Selection returns the selected jobs in index order.
func (p *Project) Selection() []*job.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Filter(p.sorted(), func(j *job.Job, _ int) bool { return p.selected[j] })
}

func boundsOf(jobs []*job.Job) r2.Box {
	box := r2.Box{
		Min: r2.Vec{X: math.Inf(1), Y: math.Inf(1)},
		Max: r2.Vec{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, j := range jobs {
		box = geometry.UnionBox(box, j.Bounds())
	}
	return box
}

// Bounds returns the box around every placed job.
func (p *Project) Bounds() r2.Box {
	return boundsOf(p.Jobs())
}

func (p *Project) selection() ([]*job.Job, r2.Vec, error) {
	sel := p.Selection()
	if len(sel) == 0 {
		return nil, r2.Vec{}, ErrNoSelection
	}
	b := boundsOf(sel)
	return sel, r2.Scale(0.5, r2.Add(b.Min, b.Max)), nil
}

// MoveSelection translates the selected jobs by d.
func (p *Project) MoveSelection(d r2.Vec) error {
	sel, _, err := p.selection()
	if err != nil {
		return err
	}
	for _, j := range sel {
		j.SetPosition(r2.Add(j.Position(), d))
	}
	return nil
}

// RotateSelection turns the selected jobs by degrees around the center
// of their common bounds.
func (p *Project) RotateSelection(degrees float64) error {
	sel, center, err := p.selection()
	if err != nil {
		return err
	}
	for _, j := range sel {
		j.TurnAround(center, degrees*math.Pi/180)
	}
	return nil
}

// ScaleSelection scales the selected jobs by factor around the center of
// their common bounds.
func (p *Project) ScaleSelection(factor float64) error {
	sel, center, err := p.selection()
	if err != nil {
		return err
	}
	for _, j := range sel {
		if err := j.ScaleAround(center, factor); err != nil {
			return fmt.Errorf("job %s: %w", j.Name(), err)
		}
	}
	return nil
}

// JobName derives a job name from a drawing path: the title-cased file
// stem.
func JobName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return cases.Title(language.Und, cases.NoLower).String(stem)
}

// JobsFromPolylines joins the raw polylines of a drawing, groups them into
// parts and makes one job per part. Each job's contours start at its own
// origin and its position keeps the layout of the drawing, with the lowest
// corner of all parts at the table origin.
func JobsFromPolylines(name string, plines []*geometry.Polyline, params job.Params) ([]*job.Job, error) {
	plines = geometry.Aggregate(plines)
	plines = lo.Filter(plines, func(p *geometry.Polyline, _ int) bool { return p.Len() > 1 })
	groups, err := geometry.GroupContours(plines)
	if err != nil {
		return nil, err
	}
	global := r2.Vec{X: math.Inf(1), Y: math.Inf(1)}
	for _, g := range groups {
		m := g[len(g)-1].Bounds().Min
		global = r2.Vec{X: math.Min(global.X, m.X), Y: math.Min(global.Y, m.Y)}
	}
	jobs := make([]*job.Job, 0, len(groups))
	for i, g := range groups {
		local := g[len(g)-1].Bounds().Min
		shifted := lo.Map(g, func(c *geometry.Polyline, _ int) *geometry.Polyline {
			return c.Affine(r2.Scale(-1, local), 0, 1)
		})
		jobName := name
		if len(groups) > 1 {
			jobName = fmt.Sprintf("%s %d", name, i)
		}
		j, err := job.New(jobName, shifted, params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", jobName, err)
		}
		j.SetPosition(r2.Sub(local, global))
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// LoadFile reads a drawing and adds its parts to the project.
func (p *Project) LoadFile(path string) ([]*job.Job, error) {
	jobs, err := p.readFile(path)
	if err != nil {
		return nil, err
	}
	p.Add(jobs...)
	return jobs, nil
}

func (p *Project) readFile(path string) ([]*job.Job, error) {
	plines, err := p.drawings.Load(path)
	if err != nil {
		return nil, err
	}
	jobs, err := JobsFromPolylines(JobName(path), plines, p.Defaults())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return jobs, nil
}

// LoadFiles reads several drawings concurrently. Files that fail to load
// are logged and skipped; the parts of the others are added in the order
// of paths. The returned error joins every failure.
func (p *Project) LoadFiles(ctx context.Context, paths ...string) ([]*job.Job, error) {
	results := make([][]*job.Job, len(paths))
	errs := make([]error, len(paths))

	g := errgroup.Group{}
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			jobs, err := p.readFile(path)
			if err != nil {
				log.Err(err).Str("path", path).Msg("load-failed")
				errs[i] = err
				return nil
			}
			log.Debug().Str("path", path).Int("jobs", len(jobs)).Msg("loaded")
			results[i] = jobs
			return nil
		})
	}
	g.Wait()

	var loaded []*job.Job
	for _, jobs := range results {
		loaded = append(loaded, jobs...)
	}
	p.Add(loaded...)
	return loaded, errors.Join(errs...)
}

// GenerateTasks makes one task per TODO cut, jobs in index order and cuts
// in cutting order.
func (p *Project) GenerateTasks(post *postproc.PostProcessor, dryRun bool) ([]task.Runner, error) {
	var tasks []task.Runner
	for _, j := range p.Jobs() {
		for _, cut := range j.CutStateIndices(job.Todo) {
			t, err := post.Generate(j, cut, dryRun)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// ResetCutStates puts every cut of every job back to TODO.
func (p *Project) ResetCutStates() {
	for _, j := range p.Jobs() {
		j.ResetCutStates()
	}
}
