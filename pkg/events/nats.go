package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the NATS subject prefix events are published under.
// The event type is appended: "nimbus.events.action.failed".
const DefaultSubject = "nimbus.events"

// Conn is the subset of *nats.Conn the forwarder needs
type Conn interface {
	Publish(subject string, data []byte) error
}

// Forwarder relays broker events to NATS
type Forwarder struct {
	conn    Conn
	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
	done    chan struct{}
}

// ConnectNATS dials a NATS server with reconnects enabled
func ConnectNATS(url, name string) (*nats.Conn, error) {
	logger := log.WithComponent("nats")
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewForwarder creates a forwarder publishing through conn
func NewForwarder(conn Conn, subject string) *Forwarder {
	if subject == "" {
		subject = DefaultSubject
	}
	f := &Forwarder{
		conn:    conn,
		subject: subject,
		logger:  log.WithComponent("events"),
		done:    make(chan struct{}),
	}
	if nc, ok := conn.(*nats.Conn); ok {
		f.nc = nc
	}
	return f
}

// Subject returns the subject an event is published on
func (f *Forwarder) Subject(event *Event) string {
	return f.subject + "." + string(event.Type)
}

// Forward publishes one event
func (f *Forwarder) Forward(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}
	return f.conn.Publish(f.Subject(event), data)
}

// Run forwards events from the broker until the subscription closes. It
// returns once sub is unsubscribed.
func (f *Forwarder) Run(sub Subscriber) {
	defer close(f.done)
	for event := range sub {
		if err := f.Forward(event); err != nil {
			f.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to forward event")
		}
	}
}

// Close drains the NATS connection after Run has returned
func (f *Forwarder) Close() {
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
	}
	if f.nc != nil {
		_ = f.nc.Drain()
		f.nc.Close()
	}
}
