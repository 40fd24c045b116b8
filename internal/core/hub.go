package core

import (
	"log"
	"sync"
	"time"
)

// Notifier delivers outbound events to a connected endpoint. The ws layer
// implements it by marshaling protocol messages; tests substitute a
// recording implementation. All methods are fire-and-forget: a send
// failure is the transport's problem, never the Hub's.
type Notifier interface {
	Matched(id, sessionID string)
	ChatMessage(id, text string, ts int64)
	Typing(id string)
	StopTyping(id string)
	StrangerNickname(id, name string)
	StrangerDisconnected(id string)
	QueueUpdate(id string, position, waiting int)
}

// StatsSink receives counter ticks from the Hub. It observes matchmaking
// but never influences it.
type StatsSink interface {
	ConnectionOpened()
	ConnectionClosed()
	SessionOpened()
	SessionEnded()
	MessageRelayed()
	QueueDepth(n int)
	MatchWait(d time.Duration)
}

// EventSink receives session lifecycle records for external consumers
// (message fan-out, archival). Implementations must not call back into
// the Hub.
type EventSink interface {
	SessionOpened(s Session)
	SessionEnded(s Session)
}

// Hub owns the registry, waiting queue, partner map, and session table.
// Every public operation runs to completion under a single mutex, which
// gives the same effective serialization as a cooperative event loop:
// no handler observes another handler's partial mutation.
type Hub struct {
	mu       sync.Mutex
	registry *Registry
	queue    *WaitQueue
	pairs    map[string]string // symmetric partner relation
	sessions *SessionTable

	notifier Notifier
	stats    StatsSink
	sinks    []EventSink

	// closeConn, when set, closes the transport socket for a connection
	// id. Used by ForceDisconnect; called without the hub lock held.
	closeConn func(id string)
}

// NewHub creates a Hub delivering outbound events through n. The stats
// sink may be nil.
func NewHub(n Notifier, stats StatsSink) *Hub {
	return &Hub{
		registry: NewRegistry(),
		queue:    NewWaitQueue(),
		pairs:    make(map[string]string),
		sessions: NewSessionTable(),
		notifier: n,
		stats:    stats,
	}
}

// AddEventSink registers a session lifecycle consumer.
func (h *Hub) AddEventSink(s EventSink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// SetConnCloser installs the transport-level socket closer used by
// ForceDisconnect.
func (h *Hub) SetConnCloser(fn func(id string)) {
	h.closeConn = fn
}

// Register creates an idle registry entry for id. It returns
// ErrAlreadyRegistered if the id is already present.
func (h *Hub) Register(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.registry.Register(id); err != nil {
		return err
	}
	if h.stats != nil {
		h.stats.ConnectionOpened()
	}
	return nil
}

// RequestMatch pairs id with a waiting partner, or enqueues it when none
// is available. Re-entrant calls while already Chatting are ignored.
// Stale waiters (selected from the queue but gone from the registry) are
// discarded one by one in a bounded loop rather than re-dispatching the
// request.
func (h *Hub) RequestMatch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(id)
	if c == nil {
		log.Printf("[hub] find_match from unknown connection %s, ignored", id)
		return
	}
	if c.Status == StatusChatting {
		return
	}

	// Guard against duplicate enqueue before selecting a partner.
	h.queue.Remove(id)

	for h.queue.Len() > 0 {
		partnerID := h.queue.PickRandom()
		partner := h.registry.Get(partnerID)
		if partner == nil {
			// Vanished between enqueue and selection.
			log.Printf("[hub] discarding stale waiter %s", partnerID)
			continue
		}
		if partner.Status != StatusWaiting {
			log.Panicf("core: queued connection %s has status %q", partnerID, partner.Status)
		}

		s := h.sessions.Open(id, partnerID)
		h.pairs[id] = partnerID
		h.pairs[partnerID] = id
		h.registry.SetStatus(id, StatusChatting, partnerID, s.ID)
		h.registry.SetStatus(partnerID, StatusChatting, id, s.ID)
		if h.stats != nil {
			h.stats.SessionOpened()
			h.stats.QueueDepth(h.queue.Len())
			if !partner.WaitingSince.IsZero() {
				h.stats.MatchWait(time.Since(partner.WaitingSince))
			}
		}
		log.Printf("[hub] matched %s and %s session=%s", id, partnerID, s.ID)

		h.notifier.Matched(id, s.ID)
		h.notifier.Matched(partnerID, s.ID)
		for _, sink := range h.sinks {
			sink.SessionOpened(*s)
		}
		return
	}

	// Queue empty or every candidate was stale.
	h.registry.SetStatus(id, StatusWaiting, "", "")
	c.WaitingSince = time.Now()
	h.queue.Push(id)
	if h.stats != nil {
		h.stats.QueueDepth(h.queue.Len())
	}
	h.notifier.QueueUpdate(id, h.queue.Position(id), h.queue.Len())
	log.Printf("[hub] %s queued (waiting=%d)", id, h.queue.Len())
}

// CancelSearch removes id from the waiting queue and resets it to idle.
// Safe to call when id is not queued.
func (h *Hub) CancelSearch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.queue.Remove(id)
	if c := h.registry.Get(id); c != nil && c.Status == StatusWaiting {
		h.registry.SetStatus(id, StatusIdle, "", "")
	}
	if h.stats != nil {
		h.stats.QueueDepth(h.queue.Len())
	}
}

// RelayMessage forwards text to the sender's current partner and reports
// whether it was delivered. A missing or stale partner yields false
// without error; the sender interprets that as an implicit session end.
func (h *Hub) RelayMessage(from, text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.Get(from)
	if c == nil {
		return false
	}
	partner := h.livePartner(from)
	if partner == nil {
		return false
	}

	h.notifier.ChatMessage(partner.ID, text, time.Now().Unix())
	c.MessagesSent++
	h.sessions.RecordMessage(c.SessionID)
	if h.stats != nil {
		h.stats.MessageRelayed()
	}
	return true
}

// RelayTyping forwards a typing signal to the partner. Fire-and-forget.
func (h *Hub) RelayTyping(from string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if partner := h.livePartner(from); partner != nil {
		h.notifier.Typing(partner.ID)
	}
}

// RelayStopTyping forwards a stop-typing signal to the partner.
func (h *Hub) RelayStopTyping(from string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if partner := h.livePartner(from); partner != nil {
		h.notifier.StopTyping(partner.ID)
	}
}

// RelayNickname announces a display name to the partner. The nickname is
// display-only: it never touches the Connection entity.
func (h *Hub) RelayNickname(from, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if partner := h.livePartner(from); partner != nil {
		h.notifier.StrangerNickname(partner.ID, name)
	}
}

// livePartner resolves the symmetric partner of id and re-validates its
// liveness against the registry at the point of use. Callers hold h.mu.
func (h *Hub) livePartner(id string) *Connection {
	partnerID, ok := h.pairs[id]
	if !ok {
		return nil
	}
	if back, ok := h.pairs[partnerID]; !ok || back != id {
		log.Panicf("core: partner map asymmetry: %s -> %s -> %s", id, partnerID, back)
	}
	return h.registry.Get(partnerID)
}

// HandleTermination tears down all state for id: it is the single path
// for explicit end-chat, transport disconnect, and admin force
// disconnect, and is safe to invoke more than once for the same id.
func (h *Hub) HandleTermination(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.queue.Remove(id)
	if h.stats != nil {
		h.stats.QueueDepth(h.queue.Len())
	}

	if partnerID, ok := h.pairs[id]; ok {
		if back, ok := h.pairs[partnerID]; !ok || back != id {
			log.Panicf("core: partner map asymmetry: %s -> %s -> %s", id, partnerID, back)
		}

		// The shared session id survives on either side's entry; read it
		// before resetting the partner.
		sessionID := ""
		if c := h.registry.Get(id); c != nil {
			sessionID = c.SessionID
		}
		partner := h.registry.Get(partnerID)
		if sessionID == "" && partner != nil {
			sessionID = partner.SessionID
		}

		if partner != nil {
			h.notifier.StrangerDisconnected(partnerID)
			h.registry.SetStatus(partnerID, StatusIdle, "", "")
		}
		delete(h.pairs, partnerID)
		delete(h.pairs, id)

		if sessionID != "" {
			h.sessions.Close(sessionID)
			if h.stats != nil {
				h.stats.SessionEnded()
			}
			if s := h.sessions.Get(sessionID); s != nil {
				for _, sink := range h.sinks {
					sink.SessionEnded(*s)
				}
			}
		}
	}

	if h.registry.Get(id) != nil {
		h.registry.Unregister(id)
		if h.stats != nil {
			h.stats.ConnectionClosed()
		}
	}
}

// ForceDisconnect drops a connection on behalf of the admin surface. The
// transport socket is closed first (when a closer is installed), which
// normally triggers the disconnect path; HandleTermination then runs
// directly to cover sockets that were already gone.
func (h *Hub) ForceDisconnect(id string) {
	log.Printf("[hub] force disconnect %s", id)
	if h.closeConn != nil {
		h.closeConn(id)
	}
	h.HandleTermination(id)
}

// ListConnections returns a snapshot of every registered connection.
func (h *Hub) ListConnections() []Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.All()
}

// ListSessions returns retained session records, optionally restricted to
// the calendar day of the given time.
func (h *Hub) ListSessions(day time.Time) []Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions.List(day)
}

// TrimLogs drops the oldest ended session records beyond max and returns
// the number removed.
func (h *Hub) TrimLogs(max int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions.Trim(max)
}

// Waiting returns the ids currently in the waiting queue, in order.
func (h *Hub) Waiting() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queue.IDs()
}

// ActiveSessions returns the number of currently active sessions.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions.ActiveCount()
}

// Online returns the number of registered connections.
func (h *Hub) Online() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Len()
}
