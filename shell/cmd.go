package shell

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	errNoData            = errors.New("no data in command")
	errWrongOptionSyntax = errors.New("wrong format for option")
)

// shellcmd is one parsed console line: the command, its positional
// arguments and its -key value options.
type shellcmd struct {
	cmd     string
	args    []string
	options map[string]string
	// rest is the raw text after the command word.
	rest string
}

func extractFields(line string) (*shellcmd, error) {
	fields, err := shellquote.Split(line)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errNoData
	}
	cmd := &shellcmd{cmd: fields[0], options: map[string]string{}}
	trimmed := strings.TrimSpace(line)
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		cmd.rest = strings.TrimSpace(trimmed[i+1:])
	}
	for i := 1; i < len(fields); i++ {
		f := fields[i]
		if !isOption(f) {
			cmd.args = append(cmd.args, f)
			continue
		}
		if i+1 >= len(fields) {
			return nil, errWrongOptionSyntax
		}
		cmd.options[f[1:]] = fields[i+1]
		i++
	}
	return cmd, nil
}

// isOption tells -name from a negative number.
func isOption(f string) bool {
	if len(f) < 2 || f[0] != '-' {
		return false
	}
	_, err := strconv.ParseFloat(f, 64)
	return err != nil
}

func (c *shellcmd) floatArg(i int) (float64, error) {
	if i >= len(c.args) {
		return 0, errors.New(c.cmd + ": missing argument")
	}
	return strconv.ParseFloat(c.args[i], 64)
}

func (c *shellcmd) intArg(i int) (int, error) {
	if i >= len(c.args) {
		return 0, errors.New(c.cmd + ": missing argument")
	}
	return strconv.Atoi(c.args[i])
}
