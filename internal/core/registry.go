// Package core implements the matchmaking and session-lifecycle engine:
// the connection registry, the waiting queue, the partner map, and the
// session table, all owned by a single Hub that serializes every
// operation. The transport layer calls into the Hub; outbound events
// leave through the Notifier interface.
package core

import (
	"errors"
	"time"
)

// Connection status values.
const (
	StatusIdle     = "idle"
	StatusWaiting  = "waiting"
	StatusChatting = "chatting"
)

// ErrAlreadyRegistered is returned by Registry.Register when the id is
// already present without an intervening Unregister.
var ErrAlreadyRegistered = errors.New("core: connection already registered")

// Connection is the per-connection state tracked by the registry. One
// entry exists per live client socket, keyed by the transport-assigned id.
type Connection struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	ConnectedSince time.Time `json:"connected_since"`
	PartnerID      string    `json:"partner_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	MessagesSent   int       `json:"messages_sent"`

	// WaitingSince is set when the connection enters the waiting queue,
	// used to observe match wait time. Not exposed to collaborators.
	WaitingSince time.Time `json:"-"`
}

// Registry owns the set of currently connected endpoints. It is not
// goroutine-safe on its own; the Hub serializes all access.
type Registry struct {
	conns map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register creates an idle entry for id. Calling it twice for the same id
// without an intervening Unregister returns ErrAlreadyRegistered.
func (r *Registry) Register(id string) (*Connection, error) {
	if _, ok := r.conns[id]; ok {
		return nil, ErrAlreadyRegistered
	}
	c := &Connection{
		ID:             id,
		Status:         StatusIdle,
		ConnectedSince: time.Now(),
	}
	r.conns[id] = c
	return c, nil
}

// Unregister removes the connection. Removing an absent id is a no-op so
// that racing disconnect paths can both call it safely.
func (r *Registry) Unregister(id string) {
	delete(r.conns, id)
}

// Get returns the connection for id, or nil if it is not registered.
func (r *Registry) Get(id string) *Connection {
	return r.conns[id]
}

// SetStatus updates status, partner, and session for id. Absent ids are
// ignored: the caller may be acting on a connection that disconnected
// between lookup and update.
func (r *Registry) SetStatus(id, status, partnerID, sessionID string) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	c.Status = status
	c.PartnerID = partnerID
	c.SessionID = sessionID
}

// All returns a copied snapshot of every registered connection.
func (r *Registry) All() []Connection {
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}
