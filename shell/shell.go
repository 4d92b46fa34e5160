// Package shell is the interactive console of the cutting table.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"

	"github.com/kerfworks/kerf/config"
	"github.com/kerfworks/kerf/controller"
	"github.com/kerfworks/kerf/eventbus"
	"github.com/kerfworks/kerf/postproc"
	"github.com/kerfworks/kerf/project"
)

type Response struct {
	message string
}

func (r *Response) String() string {
	return r.message
}

func msg(message string) *Response {
	return &Response{message: message}
}

type ShellController struct {
	l   *readline.Instance
	out io.Writer

	cfg  *config.Config
	ctl  *controller.Controller
	proj *project.Project
	post *postproc.PostProcessor
	bus  *eventbus.Bus

	ctx      context.Context
	commands map[string]func(*shellcmd) (*Response, error)
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func showMessage(msg string, w io.Writer) {
	io.WriteString(w, msg)
	io.WriteString(w, "\n")
}

// New builds a console writing to out.
func New(ctx context.Context, cfg *config.Config, ctl *controller.Controller, proj *project.Project,
	post *postproc.PostProcessor, bus *eventbus.Bus, out io.Writer) *ShellController {

	sc := &ShellController{
		out:  out,
		cfg:  cfg,
		ctl:  ctl,
		proj: proj,
		post: post,
		bus:  bus,
		ctx:  ctx,
	}
	sc.commands = map[string]func(*shellcmd) (*Response, error){
		"connect":    sc.connect,
		"disconnect": sc.disconnect,
		"home":       sc.home,
		"load":       sc.load,
		"jobs":       sc.jobs,
		"job":        sc.job,
		"select":     sc.selectJobs,
		"set":        sc.set,
		"move":       sc.move,
		"rotate":     sc.rotate,
		"scale":      sc.scale,
		"run":        sc.run,
		"dry":        sc.dry,
		"stop":       sc.stop,
		"abort":      sc.abort,
		"pause":      sc.pause,
		"resume":     sc.resume,
		"runfile":    sc.runfile,
		"send":       sc.send,
		"export":     sc.export,
		"layout":     sc.layout,
		"thc":        sc.thc,
		"log":        sc.comlog,
		"script":     sc.script,
		"status":     sc.status,
		"config":     sc.config,
		"help":       sc.help,
	}
	return sc
}

// NewShellController builds the console on a readline terminal.
func NewShellController(ctx context.Context, cfg *config.Config, ctl *controller.Controller, proj *project.Project,
	post *postproc.PostProcessor, bus *eventbus.Bus) (*ShellController, error) {

	sc := New(ctx, cfg, ctl, proj, post, bus, nil)
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[33mkerf>\033[0m ",
		HistoryFile:     cfg.GetString(config.ConfigHistoryFile),
		AutoComplete:    NewShellCompleter(sc),
		EOFPrompt:       "exit",
		InterruptPrompt: "^C",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return nil, err
	}
	sc.l = l
	sc.out = l.Stderr()
	return sc, nil
}

func (sc *ShellController) showMessage(msg string) {
	showMessage(msg, sc.out)
}

func (sc *ShellController) showError(err error) {
	sc.showMessage("Error: " + err.Error())
}

// Execute runs one console line.
func (sc *ShellController) Execute(line string) (*Response, error) {
	cmd, err := extractFields(line)
	if err != nil {
		return nil, err
	}
	fn, ok := sc.commands[cmd.cmd]
	if !ok {
		return nil, fmt.Errorf("unknown command %q, try help", cmd.cmd)
	}
	return fn(cmd)
}

// Notify prints bus messages worth the operator's attention.
func (sc *ShellController) Notify(m eventbus.Message) {
	switch m.Kind {
	case eventbus.KindIncident:
		sc.showMessage("!! incident " + m.ID + ": " + m.Text)
	case eventbus.KindLinkLost:
		sc.showMessage("!! link lost: " + m.Text)
	case eventbus.KindState:
		sc.showMessage("state " + m.Prev + " -> " + m.State)
	}
}

func (sc *ShellController) Loop(sig chan os.Signal) {
	defer sc.l.Close()

	for {
		line, err := sc.l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				sig <- syscall.SIGINT
				break
			}
			continue
		} else if errors.Is(err, io.EOF) {
			sig <- syscall.SIGINT
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			sig <- syscall.SIGINT
			break
		}
		resp, err := sc.Execute(line)
		if err != nil {
			if errors.Is(err, errNoData) {
				continue
			}
			log.Debug().Err(err).Str("line", line).Msg("command-failed")
			sc.showError(err)
			continue
		}
		if resp != nil && resp.message != "" {
			sc.showMessage(resp.message)
		}
	}
	log.Debug().Msgf("Exiting readline loop...")
}

// Cleanup aborts a run in progress and closes the link. It waits up to
// timeout for the emergency sequence to drain.
func (sc *ShellController) Cleanup(timeout time.Duration) {
	if sc.ctl.State() == controller.Active {
		if err := sc.ctl.Abort(); err != nil {
			log.Err(err).Msg("abort-on-exit")
		}
	}
	deadline := time.Now().Add(timeout)
	for sc.ctl.State() == controller.Active || sc.ctl.State() == controller.SafeMode {
		if time.Now().After(deadline) {
			log.Warn().Str("state", sc.ctl.State().String()).Msg("exit-while-busy")
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if sc.ctl.State() == controller.Inactive {
		if err := sc.ctl.Disconnect(); err != nil {
			log.Err(err).Msg("disconnect-on-exit")
		}
	}
}
