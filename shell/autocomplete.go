package shell

import (
	"maps"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ShellCompleter completes command names, their sub-actions and the
// setting names they accept.
type ShellCompleter struct {
	sc *ShellController
}

func NewShellCompleter(sc *ShellController) *ShellCompleter {
	return &ShellCompleter{sc: sc}
}

// commandArgs lists the fixed words a command takes as first argument.
var commandArgs = map[string][]string{
	"help":   {"job", "set", "script", "config"},
	"layout": {"save", "load"},
	"select": {"all"},
}

var boolValues = []string{"true", "false"}

func (c *ShellCompleter) completions(fields []string, endsWithSpace bool) []string {
	if len(fields) == 0 || (len(fields) == 1 && !endsWithSpace) {
		return append(slices.Sorted(maps.Keys(c.sc.commands)), "exit")
	}
	cmd := fields[0]
	argN := len(fields) - 1
	if !endsWithSpace {
		argN--
	}
	switch cmd {
	case "set":
		if argN == 0 {
			return slices.Sorted(maps.Keys(jobSetters))
		}
		if argN == 1 && fields[1] == "exterior-cw" {
			return boolValues
		}
	case "config":
		if argN == 0 {
			return append(c.sc.cfg.Keys(), "write")
		}
	case "job":
		if argN == 1 {
			return []string{"remove", "reset", "name", "ignore", "todo", "lead"}
		}
	default:
		if argN == 0 {
			return commandArgs[cmd]
		}
	}
	return nil
}

// Do implements the readline.AutoCompleter interface.
func (c *ShellCompleter) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])

	fields, err := shellquote.Split(text)
	if err != nil {
		// unbalanced quotes while typing
		fields = strings.Fields(text)
	}
	endsWithSpace := len(text) > 0 && text[len(text)-1] == ' '

	var prefix string
	if !endsWithSpace && len(fields) > 0 {
		prefix = fields[len(fields)-1]
	}

	var matches [][]rune
	for _, completion := range c.completions(fields, endsWithSpace) {
		if strings.HasPrefix(completion, prefix) {
			matches = append(matches, []rune(completion[len(prefix):]))
		}
	}
	return matches, len(prefix)
}
