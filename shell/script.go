package shell

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"

	"github.com/kerfworks/kerf/controller"
	"github.com/kerfworks/kerf/job"
)

func getShell(L *lua.LState) *ShellController {
	shell := L.GetGlobal("kerf_shell")
	ud, ok := shell.(*lua.LUserData)
	if !ok {
		panic("luserdata not right type")
	}
	sc, ok := ud.Value.(*ShellController)
	if !ok {
		panic("shellcontroller not right type")
	}
	return sc
}

// Exec runs one console line and returns its output, or nil and the
// error text.
func Exec(L *lua.LState) int {
	line := L.CheckString(1)
	sc := getShell(L)
	r, err := sc.Execute(line)
	if err != nil {
		log.Err(err).Str("line", line).Msg("error-executing-script-line")
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	out := ""
	if r != nil {
		out = r.message
	}
	L.Push(lua.LString(out))
	return 1
}

type statusJob struct {
	Name      string   `json:"name"`
	CutStates []string `json:"cut_states"`
}

type statusReport struct {
	State   string      `json:"state"`
	Paused  bool        `json:"paused"`
	RunID   string      `json:"run_id"`
	Pending int         `json:"pending"`
	Jobs    []statusJob `json:"jobs"`
}

func (sc *ShellController) statusReport() statusReport {
	r := statusReport{
		State:   sc.ctl.State().String(),
		Paused:  sc.ctl.Paused(),
		RunID:   sc.ctl.RunID(),
		Pending: len(sc.ctl.PendingTasks()),
	}
	for _, j := range sc.proj.Jobs() {
		sj := statusJob{Name: j.Name()}
		for _, s := range j.CutStates() {
			sj.CutStates = append(sj.CutStates, s.String())
		}
		r.Jobs = append(r.Jobs, sj)
	}
	return r
}

// Status returns the controller and job state as a table.
func Status(L *lua.LState) int {
	sc := getShell(L)
	data, err := json.Marshal(sc.statusReport())
	if err != nil {
		L.RaiseError("status: %v", err)
		return 0
	}
	v, err := luajson.Decode(L, data)
	if err != nil {
		L.RaiseError("status: %v", err)
		return 0
	}
	L.Push(v)
	return 1
}

// WaitIdle blocks until the controller leaves the active and safe
// states, or until the timeout in milliseconds. It returns whether the
// controller went idle.
func WaitIdle(L *lua.LState) int {
	sc := getShell(L)
	timeout := time.Duration(L.OptInt(1, 0)) * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		switch sc.ctl.State() {
		case controller.Inactive, controller.Unconnected:
			L.Push(lua.LTrue)
			return 1
		}
		if timeout > 0 && time.Now().After(deadline) {
			L.Push(lua.LFalse)
			return 1
		}
		select {
		case <-sc.ctx.Done():
			L.Push(lua.LFalse)
			return 1
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// TodoCount returns the number of cuts left to do.
func TodoCount(L *lua.LState) int {
	sc := getShell(L)
	n := 0
	for _, j := range sc.proj.Jobs() {
		n += len(j.CutStateIndices(job.Todo))
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (sc *ShellController) script(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		return nil, errors.New("need arguments for script")
	}

	filepath := cmd.args[0]

	L := lua.NewState()
	defer L.Close()
	L.SetContext(sc.ctx)
	luajson.Preload(L)

	lsc := L.NewUserData()
	lsc.Value = sc

	L.SetGlobal("kerf_shell", lsc)
	L.SetGlobal("kerf_exec", L.NewFunction(Exec))
	L.SetGlobal("kerf_status", L.NewFunction(Status))
	L.SetGlobal("kerf_wait_idle", L.NewFunction(WaitIdle))
	L.SetGlobal("kerf_todo", L.NewFunction(TodoCount))

	args := L.NewTable()
	for _, a := range cmd.args[1:] {
		args.Append(lua.LString(a))
	}
	L.SetGlobal("arg", args)

	if err := L.DoFile(filepath); err != nil {
		log.Err(err).Str("script", filepath).Msg("script-failed")
		return nil, err
	}
	return msg("script " + filepath + " done"), nil
}
