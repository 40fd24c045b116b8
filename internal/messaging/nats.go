// Package messaging publishes core state to NATS for external consumers:
// the admin dashboard subscribes to periodic stats and connection
// snapshots, and downstream tooling can follow session lifecycle events.
// The publisher is strictly one-way; nothing in the core reads from NATS.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/strangr/chat-server/internal/core"
)

// NATS subjects published by the chat server.
const (
	SubjectAdminStats       = "admin.stats"
	SubjectAdminConnections = "admin.connections"
	SubjectSessionOpened    = "session.opened"
	SubjectSessionEnded     = "session.ended"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chat-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Publisher wraps a NATS connection. A nil *Publisher is valid and drops
// everything, so callers never need to branch on whether NATS is
// configured.
type Publisher struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection and returns a ready publisher.
func Connect(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// publishJSON marshals v and publishes it to subject. Failures are logged
// and swallowed: admin fan-out must never affect the core.
func (p *Publisher) publishJSON(subject string, v interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[nats] marshal for %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// PublishStats publishes a stats snapshot for admin consumers.
func (p *Publisher) PublishStats(v interface{}) {
	p.publishJSON(SubjectAdminStats, v)
}

// PublishConnections publishes the active connection list.
func (p *Publisher) PublishConnections(conns []core.Connection) {
	p.publishJSON(SubjectAdminConnections, conns)
}

// SessionOpened implements core.EventSink.
func (p *Publisher) SessionOpened(s core.Session) {
	p.publishJSON(SubjectSessionOpened, s)
}

// SessionEnded implements core.EventSink.
func (p *Publisher) SessionEnded(s core.Session) {
	p.publishJSON(SubjectSessionEnded, s)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}
