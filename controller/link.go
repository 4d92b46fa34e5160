package controller

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

var ErrLink = errors.New("link failure")

// Link is a line oriented connection to a machine controller.
type Link interface {
	Open(port string) error
	Close() error
	// ReadLine blocks until a full line arrives or the read timeout
	// expires, in which case it returns an empty string and no error.
	ReadLine() (string, error)
	WriteLine(line string) error
}

// SerialLink talks to the machine over a serial port.
type SerialLink struct {
	baudRate    int
	readTimeout time.Duration
	attempts    uint

	port    serial.Port
	buf     []byte
	pending []byte
}

func NewSerialLink(baudRate int, readTimeout time.Duration) *SerialLink {
	return &SerialLink{
		baudRate:    baudRate,
		readTimeout: readTimeout,
		attempts:    3,
		buf:         make([]byte, 256),
	}
}

func (l *SerialLink) Open(port string) error {
	var p serial.Port
	err := retry.Do(
		func() error {
			var err error
			p, err = serial.Open(port, &serial.Mode{BaudRate: l.baudRate})
			return err
		},
		retry.Attempts(l.attempts),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n).Str("port", port).Msg("serial-open-retry")
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrLink, port, err)
	}
	if err := p.SetReadTimeout(l.readTimeout); err != nil {
		p.Close()
		return fmt.Errorf("%w: %w", ErrLink, err)
	}
	l.port = p
	l.pending = l.pending[:0]
	log.Info().Str("port", port).Int("baud", l.baudRate).Msg("link-opened")
	return nil
}

func (l *SerialLink) Close() error {
	if l.port == nil {
		return nil
	}
	return l.port.Close()
}

func (l *SerialLink) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := string(l.pending[:i])
			l.pending = l.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		n, err := l.port.Read(l.buf)
		if err != nil {
			return "", fmt.Errorf("%w: read: %w", ErrLink, err)
		}
		if n == 0 {
			return "", nil
		}
		l.pending = append(l.pending, l.buf[:n]...)
	}
}

func (l *SerialLink) WriteLine(line string) error {
	if _, err := l.port.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("%w: write: %w", ErrLink, err)
	}
	return nil
}
