package shell

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/config"
	"github.com/kerfworks/kerf/job"
	"github.com/kerfworks/kerf/stats"
)

const defaultLogLines = 20

func (sc *ShellController) connect(cmd *shellcmd) (*Response, error) {
	port := sc.cfg.GetString(config.ConfigSerialPort)
	if len(cmd.args) > 0 {
		port = cmd.args[0]
	}
	if err := sc.ctl.Connect(port); err != nil {
		return nil, err
	}
	return msg("connected to " + port), nil
}

func (sc *ShellController) disconnect(cmd *shellcmd) (*Response, error) {
	if err := sc.ctl.Disconnect(); err != nil {
		return nil, err
	}
	return msg("disconnected"), nil
}

func (sc *ShellController) home(cmd *shellcmd) (*Response, error) {
	return nil, sc.ctl.Home()
}

func (sc *ShellController) load(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return nil, errors.New("usage: load <file> [file...]")
	}
	jobs, err := sc.proj.LoadFiles(sc.ctx, cmd.args...)
	if len(jobs) == 0 && err != nil {
		return nil, err
	}
	names := lo.Map(jobs, func(j *job.Job, _ int) string { return j.Name() })
	out := fmt.Sprintf("loaded %d job(s): %s", len(jobs), strings.Join(names, ", "))
	if err != nil {
		out += "\nskipped: " + err.Error()
	}
	return msg(out), nil
}

func cutSummary(j *job.Job) string {
	counts := lo.CountValues(j.CutStates())
	var parts []string
	for s := job.Todo; s <= job.Ignored; s++ {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", s, n))
		}
	}
	return strings.Join(parts, " ")
}

func (sc *ShellController) jobs(cmd *shellcmd) (*Response, error) {
	jobs := sc.proj.Jobs()
	if len(jobs) == 0 {
		return msg("no jobs"), nil
	}
	selected := sc.proj.Selection()
	var b strings.Builder
	fmt.Fprintf(&b, "  %-3s %-20s %-20s %-8s %-6s %s\n", "#", "Name", "Position", "Angle", "Scale", "Cuts")
	for i, j := range jobs {
		mark := " "
		if lo.Contains(selected, j) {
			mark = "*"
		}
		pos := j.Position()
		fmt.Fprintf(&b, "%s %-3d %-20s %-20s %-8.2f %-6.3g %s\n", mark, i, j.Name(),
			fmt.Sprintf("(%.2f, %.2f)", pos.X, pos.Y), j.Angle()*180/math.Pi,
			j.Scale(), cutSummary(j))
	}
	return msg(strings.TrimRight(b.String(), "\n")), nil
}

func (sc *ShellController) job(cmd *shellcmd) (*Response, error) {
	n, err := cmd.intArg(0)
	if err != nil {
		return nil, errors.New("usage: job <n> [remove | reset | name <name> | ignore <cut> | todo <cut> | lead <cut> <pos>]")
	}
	j, err := sc.proj.Job(n)
	if err != nil {
		return nil, err
	}
	if len(cmd.args) == 1 {
		return msg(describeJob(j)), nil
	}
	switch cmd.args[1] {
	case "remove":
		sc.proj.Remove(j)
		return msg("removed " + j.Name()), nil
	case "reset":
		j.ResetCutStates()
	case "name":
		if len(cmd.args) < 3 {
			return nil, errors.New("usage: job <n> name <name>")
		}
		j.SetName(strings.Join(cmd.args[2:], " "))
	case "ignore", "todo":
		cut, err := cmd.intArg(2)
		if err != nil {
			return nil, err
		}
		s := job.Ignored
		if cmd.args[1] == "todo" {
			s = job.Todo
		}
		if err := j.SetCutState(cut, s); err != nil {
			return nil, err
		}
	case "lead":
		cut, err := cmd.intArg(2)
		if err != nil {
			return nil, err
		}
		pos, err := cmd.floatArg(3)
		if err != nil {
			return nil, err
		}
		if err := j.SetLeadPos(cut, pos); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("job: unknown action %q", cmd.args[1])
	}
	return msg(describeJob(j)), nil
}

func describeJob(j *job.Job) string {
	p := j.Params()
	pos, size := j.Position(), j.Size()
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", j.Name())
	fmt.Fprintf(&b, "  position     (%.3f, %.3f)\n", pos.X, pos.Y)
	fmt.Fprintf(&b, "  size         %.3f x %.3f\n", size.X, size.Y)
	fmt.Fprintf(&b, "  angle        %.2f\n", j.Angle()*180/math.Pi)
	fmt.Fprintf(&b, "  scale        %g\n", j.Scale())
	fmt.Fprintf(&b, "  kerf-width   %g\n", p.KerfWidth)
	fmt.Fprintf(&b, "  arc-voltage  %g\n", p.ArcVoltage)
	fmt.Fprintf(&b, "  feedrate     %g\n", p.Feedrate)
	fmt.Fprintf(&b, "  pierce-delay %g\n", p.PierceDelay)
	fmt.Fprintf(&b, "  loop-radius  %g\n", p.LoopRadius)
	fmt.Fprintf(&b, "  exterior-cw  %t\n", p.ExteriorClockwise)
	for i, s := range j.CutStates() {
		fmt.Fprintf(&b, "  cut %-3d %s\n", i, s)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (sc *ShellController) selectJobs(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 1 && cmd.args[0] == "all" {
		sc.proj.SelectAll()
	} else {
		idx := make([]int, 0, len(cmd.args))
		for i := range cmd.args {
			n, err := cmd.intArg(i)
			if err != nil {
				return nil, err
			}
			idx = append(idx, n)
		}
		if err := sc.proj.Select(idx...); err != nil {
			return nil, err
		}
	}
	names := lo.Map(sc.proj.Selection(), func(j *job.Job, _ int) string { return j.Name() })
	return msg("selected: " + strings.Join(names, ", ")), nil
}

// jobSetters change one cutting parameter of a job.
var jobSetters = map[string]func(j *job.Job, v string) error{
	"kerf-width":   floatSetter((*job.Job).SetKerfWidth),
	"arc-voltage":  floatSetter((*job.Job).SetArcVoltage),
	"feedrate":     floatSetter((*job.Job).SetFeedrate),
	"pierce-delay": floatSetter((*job.Job).SetPierceDelay),
	"loop-radius":  floatSetter((*job.Job).SetLoopRadius),
	"exterior-cw": func(j *job.Job, v string) error {
		cw, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		j.SetExteriorClockwise(cw)
		return nil
	},
}

func floatSetter(fn func(*job.Job, float64) error) func(*job.Job, string) error {
	return func(j *job.Job, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		return fn(j, f)
	}
}

// set changes a cutting parameter of the selected jobs, or of the job
// given with -job.
func (sc *ShellController) set(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 2 {
		return nil, errors.New("usage: set <param> <value> [-job n]")
	}
	setter, ok := jobSetters[cmd.args[0]]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q, one of %s", cmd.args[0],
			strings.Join(slices.Sorted(maps.Keys(jobSetters)), ", "))
	}
	targets := sc.proj.Selection()
	if s, ok := cmd.options["job"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		j, err := sc.proj.Job(n)
		if err != nil {
			return nil, err
		}
		targets = []*job.Job{j}
	}
	if len(targets) == 0 {
		return nil, errors.New("select a job first")
	}
	for _, j := range targets {
		if err := setter(j, cmd.args[1]); err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name(), err)
		}
	}
	return msg(fmt.Sprintf("set %s to %s on %d job(s)", cmd.args[0], cmd.args[1], len(targets))), nil
}

func (sc *ShellController) move(cmd *shellcmd) (*Response, error) {
	dx, err := cmd.floatArg(0)
	if err != nil {
		return nil, err
	}
	dy, err := cmd.floatArg(1)
	if err != nil {
		return nil, err
	}
	return nil, sc.proj.MoveSelection(r2.Vec{X: dx, Y: dy})
}

func (sc *ShellController) rotate(cmd *shellcmd) (*Response, error) {
	deg, err := cmd.floatArg(0)
	if err != nil {
		return nil, err
	}
	return nil, sc.proj.RotateSelection(deg)
}

func (sc *ShellController) scale(cmd *shellcmd) (*Response, error) {
	f, err := cmd.floatArg(0)
	if err != nil {
		return nil, err
	}
	return nil, sc.proj.ScaleSelection(f)
}

func (sc *ShellController) run(cmd *shellcmd) (*Response, error) {
	if err := sc.ctl.Run(sc.proj, false); err != nil {
		return nil, err
	}
	return msg("run " + sc.ctl.RunID() + " started"), nil
}

func (sc *ShellController) dry(cmd *shellcmd) (*Response, error) {
	if err := sc.ctl.Run(sc.proj, true); err != nil {
		return nil, err
	}
	return msg("dry run " + sc.ctl.RunID() + " started"), nil
}

func (sc *ShellController) stop(cmd *shellcmd) (*Response, error) {
	return nil, sc.ctl.Stop()
}

func (sc *ShellController) abort(cmd *shellcmd) (*Response, error) {
	return nil, sc.ctl.Abort()
}

func (sc *ShellController) pause(cmd *shellcmd) (*Response, error) {
	return nil, sc.ctl.Pause()
}

func (sc *ShellController) resume(cmd *shellcmd) (*Response, error) {
	return nil, sc.ctl.Resume()
}

func (sc *ShellController) runfile(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 1 {
		return nil, errors.New("usage: runfile <file.gcode>")
	}
	return nil, sc.ctl.RunFile(cmd.args[0])
}

// send passes the rest of the line to the machine untouched.
func (sc *ShellController) send(cmd *shellcmd) (*Response, error) {
	if cmd.rest == "" {
		return nil, errors.New("usage: send <gcode>")
	}
	return nil, sc.ctl.Send(cmd.rest)
}

func (sc *ShellController) export(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 1 {
		return nil, errors.New("usage: export <file.gcode>")
	}
	f, err := os.Create(cmd.args[0])
	if err != nil {
		return nil, err
	}
	if err := sc.post.Export(f, sc.proj.Jobs()); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return msg("exported to " + cmd.args[0]), nil
}

func (sc *ShellController) layout(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 2 {
		return nil, errors.New("usage: layout save|load <file.yaml>")
	}
	path := cmd.args[1]
	switch cmd.args[0] {
	case "save":
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := sc.proj.WriteLayout(f); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		return msg("layout saved to " + path), nil
	case "load":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		n, err := sc.proj.ApplyLayout(f)
		if err != nil {
			return nil, err
		}
		return msg(fmt.Sprintf("layout applied to %d job(s)", n)), nil
	}
	return nil, fmt.Errorf("layout: unknown action %q", cmd.args[0])
}

func (sc *ShellController) thc(cmd *shellcmd) (*Response, error) {
	samples := sc.ctl.THCSamples()
	if len(samples) == 0 {
		return msg("no THC samples"), nil
	}
	var b strings.Builder
	st := stats.Of(samples)
	low, high := st.Interval(95)
	fmt.Fprintf(&b, "THC error over %d samples: last %.2f, mean %.3f, stdev %.3f, 95%% CI [%.3f, %.3f]\n",
		st.Count(), st.Last(), st.Mean(), st.Stdev(), low, high)
	hist := histogram.Hist(15, samples)
	if err := histogram.Fprint(&b, hist, histogram.Linear(40)); err != nil {
		return nil, err
	}
	return msg(strings.TrimRight(b.String(), "\n")), nil
}

func (sc *ShellController) comlog(cmd *shellcmd) (*Response, error) {
	n := defaultLogLines
	if len(cmd.args) > 0 {
		var err error
		if n, err = cmd.intArg(0); err != nil {
			return nil, err
		}
	}
	entries := sc.ctl.Log()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	var b strings.Builder
	for _, e := range entries {
		dir := ">>"
		if e.Received {
			dir = "<<"
		}
		fmt.Fprintf(&b, "%s %s %s\n", e.Time.Format(time.TimeOnly), dir, e.Text)
	}
	return msg(strings.TrimRight(b.String(), "\n")), nil
}

func (sc *ShellController) status(cmd *shellcmd) (*Response, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "state    %s", sc.ctl.State())
	if sc.ctl.Paused() {
		b.WriteString(" (paused)")
	}
	if id := sc.ctl.RunID(); id != "" {
		fmt.Fprintf(&b, "\nrun      %s", id)
	}
	fmt.Fprintf(&b, "\npending  %d task(s)", len(sc.ctl.PendingTasks()))
	todo := 0
	for _, j := range sc.proj.Jobs() {
		todo += len(j.CutStateIndices(job.Todo))
	}
	fmt.Fprintf(&b, "\njobs     %d, %d cut(s) to do", len(sc.proj.Jobs()), todo)
	return msg(b.String()), nil
}

// config shows the settings, changes one, or writes them to a file.
func (sc *ShellController) config(cmd *shellcmd) (*Response, error) {
	switch len(cmd.args) {
	case 0:
		var b strings.Builder
		settings := sc.cfg.SanitizedSettings()
		for _, k := range sc.cfg.Keys() {
			v := sc.cfg.Get(k)
			if k == config.ConfigNatsURL {
				v = settings[k]
			}
			fmt.Fprintf(&b, "%-26s %v\n", k, v)
		}
		return msg(strings.TrimRight(b.String(), "\n")), nil
	case 1:
		return msg(fmt.Sprintf("%v", sc.cfg.Get(cmd.args[0]))), nil
	}
	if cmd.args[0] == "write" {
		if err := sc.cfg.Write(cmd.args[1]); err != nil {
			return nil, err
		}
		return msg("config written to " + cmd.args[1]), nil
	}
	if err := sc.cfg.Set(cmd.args[0], cmd.args[1]); err != nil {
		return nil, err
	}
	if err := sc.applyConfig(cmd.args[0]); err != nil {
		return nil, err
	}
	log.Info().Str("key", cmd.args[0]).Str("value", cmd.args[1]).Msg("config-set")
	return msg("set " + cmd.args[0] + " to " + cmd.args[1]), nil
}

// applyConfig propagates a changed setting to the parts reading it
// outside of startup.
func (sc *ShellController) applyConfig(key string) error {
	if strings.HasPrefix(key, "job.") {
		return sc.proj.SetDefaults(sc.cfg.JobParams())
	}
	return nil
}
