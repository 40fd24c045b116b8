// Package protocol defines the WebSocket message types exchanged between
// client and server. All messages are JSON with a "type" discriminator in
// a common envelope.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeFindMatch       = "find_match"
	TypeCancelSearch    = "cancel_search"
	TypeMessage         = "message"
	TypeTyping          = "typing"
	TypeStopTyping      = "stop_typing"
	TypeEndChat         = "end_chat"
	TypeSetNickname     = "set_nickname"
	TypeRequestNickname = "request_nickname"
	TypePing            = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated       = "session_created"
	TypeMatched              = "matched"
	TypeAck                  = "ack"
	TypeStrangerNickname     = "stranger_nickname"
	TypeStrangerDisconnected = "stranger_disconnected"
	TypeQueueUpdate          = "queue_update"
	TypeRateLimited          = "rate_limited"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Envelope captures the type discriminator and the raw payload so that
// the body can be decoded into a concrete struct after routing.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON retains the full raw bytes and extracts only "type".
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// FindMatchMsg asks the server to pair this connection with a waiting
// stranger, or to enqueue it when nobody is waiting.
type FindMatchMsg struct {
	Type string `json:"type"`
}

// CancelSearchMsg leaves the waiting queue.
type CancelSearchMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a text message for the current partner. MessageID is echoed
// back in the delivery acknowledgment.
type ChatMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
}

// TypingMsg signals that the client started typing.
type TypingMsg struct {
	Type string `json:"type"`
}

// StopTypingMsg signals that the client stopped typing.
type StopTypingMsg struct {
	Type string `json:"type"`
}

// EndChatMsg ends the current chat session.
type EndChatMsg struct {
	Type string `json:"type"`
}

// SetNicknameMsg announces a display name to the partner. The name is
// relayed verbatim and never stored server-side.
type SetNicknameMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

// RequestNicknameMsg asks the server to suggest a random display name.
type RequestNicknameMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent once after the WebSocket upgrade with the
// connection's transport-assigned id.
type SessionCreatedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// MatchedMsg tells both participants that a chat session opened.
type MatchedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ServerChatMsg is a text message relayed from the partner.
type ServerChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// AckMsg acknowledges a client ChatMsg. Delivered is false when the
// partner was already gone; the client treats that as the chat ending.
type AckMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Delivered bool   `json:"delivered"`
}

// StrangerNicknameMsg relays the partner's display name.
type StrangerNicknameMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

// StrangerDisconnectedMsg tells the remaining participant that the
// partner left or disconnected.
type StrangerDisconnectedMsg struct {
	Type string `json:"type"`
}

// QueueUpdateMsg is informational feedback while waiting for a match.
type QueueUpdateMsg struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
	Waiting  int    `json:"waiting"`
}

// RateLimitedMsg tells the client it is sending too fast.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg reports an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the type string, the decoded struct, and an error
// for unknown or server-only types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelSearch:
		var m CancelSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndChat:
		var m EndChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetNickname:
		var m SetNicknameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRequestNickname:
		var m RequestNicknameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage marshals a server payload struct and injects the
// "type" field, returning the final JSON bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// ValidateText checks that a chat message body meets size requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	return nil
}

// MaxMessageBytes caps the size of a single chat message body.
const MaxMessageBytes = 4096
