package core

import (
	"time"

	"github.com/google/uuid"
)

// Session status values.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Session records one matched conversation. It outlives the underlying
// connections and is retained after the chat ends for reporting, subject
// to retention trimming.
type Session struct {
	ID           string    `json:"id"`
	UserA        string    `json:"user_a"`
	UserB        string    `json:"user_b"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitzero"`
	Duration     int       `json:"duration"` // seconds, set on close
	MessageCount int       `json:"message_count"`
	Status       string    `json:"status"`
}

// IsParticipant reports whether id is one of the session's two users.
func (s *Session) IsParticipant(id string) bool {
	return id == s.UserA || id == s.UserB
}

// SessionTable tracks active and ended sessions in creation order.
// Access is serialized by the Hub.
type SessionTable struct {
	byID  map[string]*Session
	order []string
}

// NewSessionTable returns an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{byID: make(map[string]*Session)}
}

// Open creates an active session for the pair (a, b) with a fresh id.
// It is invoked only by the Hub as part of the atomic match step.
func (t *SessionTable) Open(a, b string) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		UserA:     a,
		UserB:     b,
		StartTime: time.Now(),
		Status:    SessionActive,
	}
	t.byID[s.ID] = s
	t.order = append(t.order, s.ID)
	return s
}

// Get returns the session with the given id, or nil.
func (t *SessionTable) Get(id string) *Session {
	return t.byID[id]
}

// RecordMessage increments the session's aggregate message count. Absent
// or already-ended sessions are ignored.
func (t *SessionTable) RecordMessage(id string) {
	s, ok := t.byID[id]
	if !ok || s.Status != SessionActive {
		return
	}
	s.MessageCount++
}

// Close marks the session ended, stamping EndTime and Duration exactly
// once. Closing an absent or already-ended session is a no-op: the
// explicit end-chat path and the disconnect path can race to close the
// same session.
func (t *SessionTable) Close(id string) {
	s, ok := t.byID[id]
	if !ok || s.Status == SessionEnded {
		return
	}
	s.EndTime = time.Now()
	s.Duration = int(s.EndTime.Sub(s.StartTime) / time.Second)
	s.Status = SessionEnded
}

// ActiveCount returns the number of sessions still active.
func (t *SessionTable) ActiveCount() int {
	n := 0
	for _, s := range t.byID {
		if s.Status == SessionActive {
			n++
		}
	}
	return n
}

// List returns copies of all sessions in creation order. When day is
// non-zero, only sessions whose StartTime falls on that calendar day (in
// the day's location) are returned.
func (t *SessionTable) List(day time.Time) []Session {
	out := make([]Session, 0, len(t.order))
	for _, id := range t.order {
		s := t.byID[id]
		if !day.IsZero() {
			y1, m1, d1 := s.StartTime.In(day.Location()).Date()
			y2, m2, d2 := day.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		out = append(out, *s)
	}
	return out
}

// Trim drops the oldest ended sessions until at most max records remain.
// Active sessions are never dropped.
func (t *SessionTable) Trim(max int) int {
	if len(t.order) <= max {
		return 0
	}
	removed := 0
	kept := t.order[:0]
	excess := len(t.order) - max
	for _, id := range t.order {
		s := t.byID[id]
		if excess > 0 && s.Status == SessionEnded {
			delete(t.byID, id)
			excess--
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return removed
}

// Len returns the total number of retained session records.
func (t *SessionTable) Len() int {
	return len(t.order)
}
