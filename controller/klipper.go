package controller

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Lines understood from a Klipper host.
const (
	ackPrefix                = "ok"
	errorPrefix              = "!!"
	arcTransferTimeoutPrefix = "!! Arc transfer timeout"
	thcErrorPrefix           = "// echo: THC_error"
)

// klipperTree wires the handlers run for device lines. They are called
// with c.mu held.
func (c *Controller) klipperTree() *DecisionTree {
	t := NewDecisionTree(c.onLine)
	t.Insert(ackPrefix, c.onAck)
	t.Insert(errorPrefix, c.onError)
	t.Insert(arcTransferTimeoutPrefix, c.onArcTransferTimeout)
	t.Insert(thcErrorPrefix, c.onTHCError)
	return t
}

func (c *Controller) received(line string) {
	c.comlog.push(LogEntry{Time: time.Now(), Received: true, Text: line})
}

func (c *Controller) onLine(line string) {
	c.received(line)
}

func (c *Controller) acknowledge() {
	c.busy = false
	c.stopAckTimer()
	c.cond.Broadcast()
}

func (c *Controller) onAck(line string) {
	c.received(line)
	c.acknowledge()
}

// raise reports an incident and aborts a running job. An error line
// answers the command in flight.
func (c *Controller) raise(msg string) {
	c.incident(msg)
	if c.state == Active {
		c.enterSafeMode()
	}
	c.acknowledge()
}

func (c *Controller) onError(line string) {
	c.received(line)
	msg := strings.TrimSpace(strings.TrimPrefix(line, errorPrefix))
	if msg == "" {
		msg = "emergency stop"
	}
	c.raise(msg)
}

func (c *Controller) onArcTransferTimeout(line string) {
	c.received(line)
	msg := "arc transfer timeout"
	if rest := strings.TrimSpace(strings.TrimPrefix(line, arcTransferTimeoutPrefix)); rest != "" {
		msg += " after " + rest
	}
	c.raise(msg)
}

// onTHCError records the second value of a THC error line. These lines are
// telemetry and stay out of the communication log.
func (c *Controller) onTHCError(line string) {
	fields := strings.Fields(strings.TrimPrefix(line, thcErrorPrefix))
	if len(fields) < 2 {
		log.Debug().Str("line", line).Msg("short-thc-line")
		return
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		log.Debug().Err(err).Str("line", line).Msg("bad-thc-line")
		return
	}
	c.thc.push(v)
}
