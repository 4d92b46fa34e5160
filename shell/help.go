package shell

import (
	"embed"
	"errors"
	"io"
	"io/fs"
	"strings"
)

//go:embed helptext/*.txt
var helptext embed.FS

func usage(w io.Writer) {
	dat, err := helptext.ReadFile("helptext/usage.txt")
	if err != nil {
		io.WriteString(w, "Error loading helptext: "+err.Error())
		return
	}
	w.Write(dat)
}

func usageTopic(w io.Writer, topic string) {
	dat, err := helptext.ReadFile("helptext/" + topic + ".txt")
	if err != nil || !fs.ValidPath(topic) {
		io.WriteString(w, "There is no help text for the topic "+topic+"\n")
		return
	}
	w.Write(dat)
}

func (sc *ShellController) help(cmd *shellcmd) (*Response, error) {
	var b strings.Builder
	switch len(cmd.args) {
	case 0:
		usage(&b)
	case 1:
		usageTopic(&b, cmd.args[0])
	default:
		return nil, errors.New("usage: help [topic]")
	}
	return msg(strings.TrimRight(b.String(), "\n")), nil
}
