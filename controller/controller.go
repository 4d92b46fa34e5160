// Package controller drives a machine over a line oriented link. An input
// worker reads and dispatches device lines while an output worker sends one
// command at a time, waiting for each acknowledgement before the next.
package controller

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kerfworks/kerf/postproc"
	"github.com/kerfworks/kerf/task"
)

var (
	ErrNotConnected     = errors.New("controller not connected")
	ErrAlreadyConnected = errors.New("controller already connected")
	ErrBusy             = errors.New("controller is running")
	ErrSafeMode         = errors.New("controller in safe mode")
	ErrNotRunning       = errors.New("controller is not running")
	ErrNothingToRun     = errors.New("nothing to run")
	ErrAckTimeout       = errors.New("acknowledgement timeout")
)

type Config struct {
	// AckTimeout bounds the wait for an acknowledgement. When it expires
	// the controller raises an incident and disconnects. Zero waits
	// forever.
	AckTimeout time.Duration
}

// TaskSource provides the tasks of a run.
type TaskSource interface {
	GenerateTasks(post *postproc.PostProcessor, dryRun bool) ([]task.Runner, error)
}

type Controller struct {
	mu     sync.Mutex
	cond   *sync.Cond
	emitMu sync.Mutex

	link Link
	post *postproc.PostProcessor
	cfg  Config
	tree *DecisionTree

	state   State
	gen     uint64
	workers *sync.WaitGroup
	cur     task.Runner
	tasks   []task.Runner
	manual  []string
	busy    bool
	paused  bool
	runID   string

	sent     uint64
	ackTimer *time.Timer

	comlog *ring[LogEntry]
	thc    *ring[float64]

	listeners []Listener
	pending   []Event
	updates   []func()
}

func New(link Link, post *postproc.PostProcessor, cfg Config) *Controller {
	c := &Controller{
		link:   link,
		post:   post,
		cfg:    cfg,
		comlog: newRing[LogEntry](comLogSize),
		thc:    newRing[float64](thcSamples),
	}
	c.cond = sync.NewCond(&c.mu)
	c.tree = c.klipperTree()
	return c
}

func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) queue(ev Event) {
	ev.Time = time.Now()
	ev.RunID = c.runID
	if ev.Kind != StateChanged {
		ev.State = c.state
	}
	c.pending = append(c.pending, ev)
}

// later queues a cut state update of a running job task.
func (c *Controller) later(update func()) {
	c.updates = append(c.updates, update)
}

// flush applies queued cut state updates and delivers queued events. It
// must be called without c.mu held, so job listeners never run under it.
func (c *Controller) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	evs, updates := c.pending, c.updates
	c.pending, c.updates = nil, nil
	ls := c.listeners
	c.mu.Unlock()
	for _, update := range updates {
		update()
	}
	for _, ev := range evs {
		for _, l := range ls {
			l(ev)
		}
	}
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	prev := c.state
	c.state = s
	log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("controller-state")
	c.queue(Event{Kind: StateChanged, State: s, Prev: prev})
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// RunID identifies the current run. It is empty while no run is active.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// PendingTasks returns the commands of the tasks queued after the current
// one.
func (c *Controller) PendingTasks() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.tasks))
	for i, t := range c.tasks {
		out[i] = t.Commands()
	}
	return out
}

// Log returns the last lines exchanged with the machine, oldest first.
func (c *Controller) Log() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comlog.values()
}

// THCSamples returns the last torch height control error samples.
func (c *Controller) THCSamples() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thc.values()
}

func (c *Controller) Connect(port string) error {
	c.mu.Lock()
	if c.state != Unconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	prev := c.workers
	c.mu.Unlock()
	// workers of a forced disconnect may still be exiting
	if prev != nil {
		prev.Wait()
	}

	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Unconnected {
		return ErrAlreadyConnected
	}
	if err := c.link.Open(port); err != nil {
		return err
	}
	c.gen++
	c.cur, c.tasks, c.manual = nil, nil, nil
	c.busy, c.paused = false, false
	c.thc.reset()
	c.workers = &sync.WaitGroup{}
	c.workers.Add(2)
	go c.inputLoop(c.gen, c.workers)
	go c.outputLoop(c.gen, c.workers)
	c.setState(Inactive)
	return nil
}

// Disconnect closes the link. It is only allowed while inactive.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case Unconnected:
		c.mu.Unlock()
		return ErrNotConnected
	case Active, SafeMode:
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	c.stopAckTimer()
	err := c.link.Close()
	c.setState(Unconnected)
	c.cond.Broadcast()
	workers := c.workers
	c.mu.Unlock()

	workers.Wait()
	c.flush()
	if err != nil {
		return fmt.Errorf("%w: close: %w", ErrLink, err)
	}
	return nil
}

// disconnectLocked tears the connection down after a failure.
func (c *Controller) disconnectLocked(cause error) {
	log.Error().Err(cause).Msg("forced-disconnect")
	c.gen++
	c.stopAckTimer()
	if c.cur != nil {
		c.cur.Fail()
		c.cur = nil
	}
	c.tasks, c.manual = nil, nil
	c.busy, c.paused = false, false
	if err := c.link.Close(); err != nil {
		log.Debug().Err(err).Msg("link-close")
	}
	c.queue(Event{Kind: LinkLost, Message: cause.Error()})
	c.runID = ""
	c.setState(Unconnected)
	c.cond.Broadcast()
}

func (c *Controller) inputLoop(gen uint64, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		line, err := c.link.ReadLine()
		if !c.receive(gen, line, err) {
			return
		}
	}
}

func (c *Controller) receive(gen uint64, line string, err error) bool {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	if err != nil {
		c.disconnectLocked(err)
		return false
	}
	if line = strings.TrimRight(line, " \t\r\n"); line != "" {
		c.tree.Dispatch(line)
	}
	return true
}

func (c *Controller) outputLoop(gen uint64, wg *sync.WaitGroup) {
	defer wg.Done()
	for c.sendNext(gen) {
	}
}

// sendNext waits until a command may be sent and sends it. It returns
// early whenever events are pending so they get delivered.
func (c *Controller) sendNext(gen uint64) bool {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) == 0 {
		if c.gen != gen {
			return false
		}
		if !c.busy {
			if cmd, ok := c.nextCommand(); ok {
				if err := c.link.WriteLine(cmd); err != nil {
					c.disconnectLocked(err)
					return false
				}
				c.busy = true
				c.sent++
				c.comlog.push(LogEntry{Time: time.Now(), Text: cmd})
				c.armAckTimer()
				return true
			}
			if len(c.pending) > 0 {
				break
			}
		}
		c.cond.Wait()
	}
	return c.gen == gen
}

func (c *Controller) popManual() (string, bool) {
	if len(c.manual) == 0 {
		return "", false
	}
	cmd := c.manual[0]
	c.manual = c.manual[1:]
	return cmd, true
}

// nextCommand pops the command to send next, if any. Manual commands go
// first. Once every task is exhausted the run ends.
func (c *Controller) nextCommand() (string, bool) {
	switch c.state {
	case Inactive:
		return c.popManual()
	case Active:
		if c.paused {
			return c.popManual()
		}
		if len(c.manual) > 0 {
			if c.cur != nil {
				return c.popManual()
			}
			c.cur, _ = task.New(c.manual)
			c.manual = nil
		}
	case SafeMode:
	default:
		return "", false
	}
	for {
		if c.cur != nil {
			if cmd, err := c.cur.Pop(); err == nil {
				return cmd, true
			}
			c.cur.Close()
			c.cur = nil
		}
		if len(c.tasks) == 0 {
			log.Info().Str("run", c.runID).Msg("run-finished")
			c.setState(Inactive)
			c.runID = ""
			return "", false
		}
		c.cur, c.tasks = c.tasks[0], c.tasks[1:]
	}
}

func (c *Controller) armAckTimer() {
	if c.cfg.AckTimeout <= 0 {
		return
	}
	c.stopAckTimer()
	gen, seq := c.gen, c.sent
	c.ackTimer = time.AfterFunc(c.cfg.AckTimeout, func() {
		c.ackExpired(gen, seq)
	})
}

func (c *Controller) stopAckTimer() {
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

func (c *Controller) ackExpired(gen, seq uint64) {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.sent != seq || !c.busy {
		return
	}
	c.incident(fmt.Sprintf("no acknowledgement within %s", c.cfg.AckTimeout))
	c.disconnectLocked(ErrAckTimeout)
}

// Start runs tasks in order.
func (c *Controller) Start(tasks ...task.Runner) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start(tasks)
}

func (c *Controller) start(tasks []task.Runner) error {
	switch c.state {
	case Unconnected:
		return ErrNotConnected
	case Active:
		return ErrBusy
	case SafeMode:
		return ErrSafeMode
	}
	if len(tasks) == 0 {
		return ErrNothingToRun
	}
	c.tasks = append([]task.Runner(nil), tasks...)
	for _, t := range c.tasks {
		if jt, ok := t.(*task.JobTask); ok {
			jt.Defer(c.later)
		}
	}
	c.cur = nil
	c.paused = false
	c.runID = uuid.NewString()
	log.Info().Str("run", c.runID).Int("tasks", len(tasks)).Msg("run-started")
	c.setState(Active)
	c.cond.Broadcast()
	return nil
}

// Run generates the tasks of src and runs them.
func (c *Controller) Run(src TaskSource, dryRun bool) error {
	switch c.State() {
	case Unconnected:
		return ErrNotConnected
	case Active:
		return ErrBusy
	case SafeMode:
		return ErrSafeMode
	}
	tasks, err := src.GenerateTasks(c.post, dryRun)
	if err != nil {
		return err
	}
	return c.Start(tasks...)
}

// Home runs the homing sequence.
func (c *Controller) Home() error {
	return c.Start(c.post.InitTask())
}

// RunFile runs a raw G-code file as a single task.
func (c *Controller) RunFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var cmds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if cmd := cleanCommand(sc.Text()); cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	t, err := task.New(cmds)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrNothingToRun)
	}
	return c.Start(t)
}

// cleanCommand drops comments and surrounding blanks.
func cleanCommand(cmd string) string {
	if i := strings.IndexByte(cmd, ';'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.TrimSpace(cmd)
}

// Send queues a manual command. Comment-only commands are ignored.
func (c *Controller) Send(cmd string) error {
	cmd = cleanCommand(cmd)
	if cmd == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Unconnected:
		return ErrNotConnected
	case SafeMode:
		return ErrSafeMode
	}
	c.manual = append(c.manual, cmd)
	c.cond.Broadcast()
	return nil
}

// Stop discards the queued tasks and manual commands. The current task
// runs to its end.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return ErrNotRunning
	}
	log.Info().Int("discarded", len(c.tasks)).Msg("run-stopped")
	c.tasks, c.manual = nil, nil
	c.paused = false
	c.cond.Broadcast()
	return nil
}

// Abort fails the current task and replaces every pending task with the
// emergency sequence. A command in flight is not interrupted.
func (c *Controller) Abort() error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return ErrNotRunning
	}
	log.Warn().Str("run", c.runID).Msg("run-aborted")
	c.enterSafeMode()
	return nil
}

func (c *Controller) enterSafeMode() {
	c.manual = nil
	c.paused = false
	if c.cur != nil {
		c.cur.Fail()
		c.cur = nil
	}
	c.tasks = []task.Runner{c.post.EmergencyTask()}
	c.setState(SafeMode)
	c.cond.Broadcast()
}

// Pause holds the current run between two commands. Manual commands are
// still sent.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return ErrNotRunning
	}
	c.paused = true
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return ErrNotRunning
	}
	c.paused = false
	c.cond.Broadcast()
	return nil
}

// incident queues an incident event.
func (c *Controller) incident(msg string) {
	id := uuid.NewString()
	log.Warn().Str("incident", id).Str("state", c.state.String()).Msg(msg)
	c.queue(Event{Kind: Incident, ID: id, Message: msg})
}
