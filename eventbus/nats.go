package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Conn is the part of a NATS connection the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes bus messages as JSON to <subject>.<kind>.
type NATSPublisher struct {
	conn    Conn
	subject string
}

func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// ConnectNATS dials url, retrying a few times with backoff.
func ConnectNATS(url, subject string) (*NATSPublisher, error) {
	var nc *nats.Conn
	err := retry.Do(
		func() error {
			var err error
			nc, err = nats.Connect(url, nats.Name("kerf"))
			return err
		},
		retry.Attempts(4),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			log.Err(err).Uint("n", n).Str("url", url).Msg("nats-connect-retry")
			return retry.BackOffDelay(n, err, config)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	log.Info().Str("url", url).Str("subject", subject).Msg("nats-connected")
	return NewNATSPublisher(nc, subject), nil
}

// Subject returns the subject a message of kind is published to.
func (p *NATSPublisher) Subject(kind string) string {
	return p.subject + "." + kind
}

// Handle publishes m. Failures are logged; events are never held back.
func (p *NATSPublisher) Handle(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Err(err).Str("kind", m.Kind).Msg("event-marshal-failed")
		return
	}
	if err := p.conn.Publish(p.Subject(m.Kind), data); err != nil {
		log.Err(err).Str("kind", m.Kind).Msg("event-publish-failed")
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
