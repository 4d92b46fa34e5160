// Package task holds the command sequences sent to the machine.
package task

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kerfworks/kerf/job"
)

var (
	ErrEmptyTask = errors.New("task has no commands")
	ErrExhausted = errors.New("task exhausted")
)

// Runner is a sequence of commands consumed one at a time.
type Runner interface {
	// Pop returns the next command, or ErrExhausted.
	Pop() (string, error)
	// Fail marks the runner as failed and closes it.
	Fail()
	Close()
	Commands() []string
}

// Task is an ordered list of commands with a cursor.
type Task struct {
	cmds   []string
	cursor int
	failed bool
	closed bool
}

func New(cmds []string) (*Task, error) {
	if len(cmds) == 0 {
		return nil, ErrEmptyTask
	}
	return &Task{cmds: append([]string(nil), cmds...)}, nil
}

func (t *Task) Pop() (string, error) {
	if t.closed || t.cursor >= len(t.cmds) {
		return "", ErrExhausted
	}
	cmd := t.cmds[t.cursor]
	t.cursor++
	return cmd, nil
}

func (t *Task) Fail() {
	t.failed = true
	t.Close()
}

func (t *Task) Close() {
	t.closed = true
}

func (t *Task) Failed() bool { return t.failed }

func (t *Task) Closed() bool { return t.closed }

// Remaining is the number of commands not popped yet.
func (t *Task) Remaining() int {
	return len(t.cmds) - t.cursor
}

func (t *Task) Commands() []string {
	return append([]string(nil), t.cmds...)
}

// JobTask cuts one contour of a job. Unless it is a dry run, it moves the
// cut to RUNNING on the first pop and to DONE or FAILED on close.
type JobTask struct {
	Task
	job    *job.Job
	cut    int
	dryRun bool
	later  func(func())
}

func NewJobTask(cmds []string, j *job.Job, cut int, dryRun bool) (*JobTask, error) {
	t, err := New(cmds)
	if err != nil {
		return nil, fmt.Errorf("job %s cut %d: %w", j.Name(), cut, err)
	}
	return &JobTask{Task: *t, job: j, cut: cut, dryRun: dryRun}, nil
}

// Defer routes the cut state updates of the task through later, which
// must run them in order. By default they apply immediately.
func (t *JobTask) Defer(later func(func())) {
	t.later = later
}

func (t *JobTask) Job() *job.Job { return t.job }

func (t *JobTask) Cut() int { return t.cut }

func (t *JobTask) DryRun() bool { return t.dryRun }

func (t *JobTask) Pop() (string, error) {
	first := t.cursor == 0 && !t.closed
	cmd, err := t.Task.Pop()
	if err == nil && first && !t.dryRun {
		t.setState(job.Running)
	}
	return cmd, err
}

func (t *JobTask) Fail() {
	t.failed = true
	t.Close()
}

func (t *JobTask) Close() {
	if t.closed {
		return
	}
	t.Task.Close()
	if t.dryRun {
		return
	}
	if t.failed || t.cursor < len(t.cmds) {
		t.setState(job.Failed)
	} else {
		t.setState(job.Done)
	}
}

func (t *JobTask) setState(s job.CutState) {
	apply := func() {
		if err := t.job.SetCutState(t.cut, s); err != nil {
			log.Error().Err(err).Str("job", t.job.Name()).Int("cut", t.cut).
				Str("state", s.String()).Msg("cut-state-update-failed")
		}
	}
	if t.later != nil {
		t.later(apply)
		return
	}
	apply()
}
