package core

import (
	"testing"
	"time"
)

// event is one recorded notifier call.
type event struct {
	kind string
	id   string
	arg  string
}

// recordingNotifier captures every outbound notification for assertions.
type recordingNotifier struct {
	events []event
}

func (r *recordingNotifier) Matched(id, sessionID string) {
	r.events = append(r.events, event{"matched", id, sessionID})
}
func (r *recordingNotifier) ChatMessage(id, text string, ts int64) {
	r.events = append(r.events, event{"message", id, text})
}
func (r *recordingNotifier) Typing(id string) {
	r.events = append(r.events, event{"typing", id, ""})
}
func (r *recordingNotifier) StopTyping(id string) {
	r.events = append(r.events, event{"stop_typing", id, ""})
}
func (r *recordingNotifier) StrangerNickname(id, name string) {
	r.events = append(r.events, event{"nickname", id, name})
}
func (r *recordingNotifier) StrangerDisconnected(id string) {
	r.events = append(r.events, event{"stranger_disconnected", id, ""})
}
func (r *recordingNotifier) QueueUpdate(id string, position, waiting int) {
	r.events = append(r.events, event{"queue_update", id, ""})
}

func (r *recordingNotifier) of(kind string) []event {
	var out []event
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// countingStats verifies that counter ticks track the lifecycle.
type countingStats struct {
	opened, closed     int
	sessions, ended    int
	messages           int
	lastQueueDepth     int
	matchWaitsObserved int
}

func (s *countingStats) ConnectionOpened()         { s.opened++ }
func (s *countingStats) ConnectionClosed()         { s.closed++ }
func (s *countingStats) SessionOpened()            { s.sessions++ }
func (s *countingStats) SessionEnded()             { s.ended++ }
func (s *countingStats) MessageRelayed()           { s.messages++ }
func (s *countingStats) QueueDepth(n int)          { s.lastQueueDepth = n }
func (s *countingStats) MatchWait(d time.Duration) { s.matchWaitsObserved++ }

func newTestHub(t *testing.T) (*Hub, *recordingNotifier, *countingStats) {
	t.Helper()
	n := &recordingNotifier{}
	s := &countingStats{}
	return NewHub(n, s), n, s
}

func register(t *testing.T, h *Hub, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := h.Register(id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
}

func mustStatus(t *testing.T, h *Hub, id, want string) {
	t.Helper()
	for _, c := range h.ListConnections() {
		if c.ID == id {
			if c.Status != want {
				t.Fatalf("connection %s status = %q, want %q", id, c.Status, want)
			}
			return
		}
	}
	t.Fatalf("connection %s not found", id)
}

func TestHub_SoloRequestQueues(t *testing.T) {
	h, n, s := newTestHub(t)
	register(t, h, "a")

	h.RequestMatch("a")

	mustStatus(t, h, "a", StatusWaiting)
	if got := h.Waiting(); len(got) != 1 || got[0] != "a" {
		t.Errorf("queue = %v, want [a]", got)
	}
	if len(n.of("matched")) != 0 {
		t.Error("no match should fire with a single waiter")
	}
	if len(n.of("queue_update")) != 1 {
		t.Error("waiter should receive a queue update")
	}
	if s.lastQueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", s.lastQueueDepth)
	}
}

func TestHub_TwoWaitersMatch(t *testing.T) {
	h, n, s := newTestHub(t)
	register(t, h, "a", "b")

	h.RequestMatch("a")
	h.RequestMatch("b")

	mustStatus(t, h, "a", StatusChatting)
	mustStatus(t, h, "b", StatusChatting)
	if len(h.Waiting()) != 0 {
		t.Errorf("queue should be empty after match: %v", h.Waiting())
	}

	matched := n.of("matched")
	if len(matched) != 2 {
		t.Fatalf("expected 2 matched notifications, got %d", len(matched))
	}
	if matched[0].arg != matched[1].arg || matched[0].arg == "" {
		t.Error("both sides must receive the same session id")
	}
	seen := map[string]bool{matched[0].id: true, matched[1].id: true}
	if !seen["a"] || !seen["b"] {
		t.Errorf("matched notifications went to %v, want a and b", seen)
	}

	if h.ActiveSessions() != 1 {
		t.Errorf("active sessions = %d, want 1", h.ActiveSessions())
	}
	if s.sessions != 1 {
		t.Errorf("session counter = %d, want 1", s.sessions)
	}
	if s.matchWaitsObserved != 1 {
		t.Errorf("match wait observations = %d, want 1", s.matchWaitsObserved)
	}
}

func TestHub_ThreeWaitersPairExactlyTwo(t *testing.T) {
	h, n, _ := newTestHub(t)
	register(t, h, "a", "b", "c")

	h.RequestMatch("a")
	h.RequestMatch("b") // pairs with a, draining the queue
	h.RequestMatch("c") // nobody left, c waits

	chatting := 0
	for _, c := range h.ListConnections() {
		if c.Status == StatusChatting {
			chatting++
		}
	}
	if chatting != 2 {
		t.Errorf("%d chatting connections, want 2", chatting)
	}
	if got := h.Waiting(); len(got) != 1 {
		t.Errorf("queue = %v, want exactly one leftover waiter", got)
	}
	if len(n.of("matched")) != 2 {
		t.Errorf("matched notifications = %d, want 2", len(n.of("matched")))
	}
}

func TestHub_RepeatFindMatchWhileWaiting(t *testing.T) {
	h, _, _ := newTestHub(t)
	register(t, h, "a")

	h.RequestMatch("a")
	h.RequestMatch("a")
	h.RequestMatch("a")

	if got := h.Waiting(); len(got) != 1 {
		t.Errorf("repeated find_match must not duplicate the queue entry: %v", got)
	}
	mustStatus(t, h, "a", StatusWaiting)
}

func TestHub_FindMatchWhileChattingIgnored(t *testing.T) {
	h, n, _ := newTestHub(t)
	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")

	before := len(n.events)
	h.RequestMatch("a")

	if len(n.events) != before {
		t.Error("find_match while chatting should emit nothing")
	}
	mustStatus(t, h, "a", StatusChatting)
	if len(h.Waiting()) != 0 {
		t.Errorf("queue should stay empty: %v", h.Waiting())
	}
}

func TestHub_FindMatchUnknownConnection(t *testing.T) {
	h, n, _ := newTestHub(t)

	h.RequestMatch("ghost") // must not panic, must not enqueue

	if len(h.Waiting()) != 0 {
		t.Errorf("unknown id must not be queued: %v", h.Waiting())
	}
	if len(n.events) != 0 {
		t.Error("unknown id should emit nothing")
	}
}

func TestHub_CancelSearch(t *testing.T) {
	h, _, s := newTestHub(t)
	register(t, h, "a")
	h.RequestMatch("a")

	h.CancelSearch("a")

	mustStatus(t, h, "a", StatusIdle)
	if len(h.Waiting()) != 0 {
		t.Errorf("queue should be empty after cancel: %v", h.Waiting())
	}
	if s.lastQueueDepth != 0 {
		t.Errorf("queue depth = %d, want 0", s.lastQueueDepth)
	}

	h.CancelSearch("a")     // idle, no-op
	h.CancelSearch("ghost") // unknown, no-op
}

func TestHub_RelayMessage(t *testing.T) {
	h, n, s := newTestHub(t)
	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")

	if !h.RelayMessage("a", "hello") {
		t.Fatal("relay to a live partner should report delivered")
	}

	msgs := n.of("message")
	if len(msgs) != 1 || msgs[0].arg != "hello" {
		t.Fatalf("unexpected relayed messages: %v", msgs)
	}
	// The recipient is whichever side is not the sender.
	if msgs[0].id == "a" {
		t.Error("message must go to the partner, not echo to the sender")
	}

	var sender Connection
	for _, c := range h.ListConnections() {
		if c.ID == "a" {
			sender = c
		}
	}
	if sender.MessagesSent != 1 {
		t.Errorf("sender MessagesSent = %d, want 1", sender.MessagesSent)
	}
	if s.messages != 1 {
		t.Errorf("message counter = %d, want 1", s.messages)
	}

	sessions := h.ListSessions(time.Time{})
	if len(sessions) != 1 || sessions[0].MessageCount != 1 {
		t.Errorf("session message count not recorded: %+v", sessions)
	}
}

func TestHub_RelayMessageWithoutPartner(t *testing.T) {
	h, n, _ := newTestHub(t)
	register(t, h, "a")

	if h.RelayMessage("a", "anyone there") {
		t.Error("relay with no partner should report undelivered")
	}
	if h.RelayMessage("ghost", "hi") {
		t.Error("relay from unknown id should report undelivered")
	}
	if len(n.of("message")) != 0 {
		t.Error("nothing should be delivered")
	}
}

func TestHub_TypingSignals(t *testing.T) {
	h, n, _ := newTestHub(t)
	register(t, h, "a", "b")

	// Signals while idle are tolerated silently.
	h.RelayTyping("a")
	h.RelayStopTyping("a")
	if len(n.events) != 0 {
		t.Fatal("typing while idle should emit nothing")
	}

	h.RequestMatch("a")
	h.RequestMatch("b")
	h.RelayTyping("a")
	h.RelayStopTyping("a")

	if got := n.of("typing"); len(got) != 1 || got[0].id == "a" {
		t.Errorf("typing should reach the partner once: %v", got)
	}
	if got := n.of("stop_typing"); len(got) != 1 || got[0].id == "a" {
		t.Errorf("stop_typing should reach the partner once: %v", got)
	}
}

func TestHub_RelayNickname(t *testing.T) {
	h, n, _ := newTestHub(t)
	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")

	h.RelayNickname("a", "Sunflower")

	got := n.of("nickname")
	if len(got) != 1 || got[0].arg != "Sunflower" || got[0].id == "a" {
		t.Errorf("nickname should reach the partner: %v", got)
	}
}

func TestHub_TerminationCleansBothSides(t *testing.T) {
	h, n, s := newTestHub(t)
	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")

	h.HandleTermination("a")

	// The departing side is fully removed, the partner is reset to idle.
	for _, c := range h.ListConnections() {
		if c.ID == "a" {
			t.Fatal("terminated connection should be unregistered")
		}
	}
	mustStatus(t, h, "b", StatusIdle)

	if got := n.of("stranger_disconnected"); len(got) != 1 || got[0].id != "b" {
		t.Errorf("partner should be told the stranger left: %v", got)
	}
	if h.ActiveSessions() != 0 {
		t.Errorf("active sessions = %d, want 0", h.ActiveSessions())
	}
	if s.ended != 1 || s.closed != 1 {
		t.Errorf("counters ended=%d closed=%d, want 1/1", s.ended, s.closed)
	}

	sessions := h.ListSessions(time.Time{})
	if len(sessions) != 1 || sessions[0].Status != SessionEnded {
		t.Errorf("session record should survive as ended: %+v", sessions)
	}

	// The surviving side can immediately search again.
	h.RequestMatch("b")
	mustStatus(t, h, "b", StatusWaiting)
}

func TestHub_TerminationWhileWaiting(t *testing.T) {
	h, _, _ := newTestHub(t)
	register(t, h, "a")
	h.RequestMatch("a")

	h.HandleTermination("a")

	if len(h.Waiting()) != 0 {
		t.Errorf("queue should be empty: %v", h.Waiting())
	}
	if h.Online() != 0 {
		t.Errorf("online = %d, want 0", h.Online())
	}
}

func TestHub_TerminationIdempotent(t *testing.T) {
	h, n, s := newTestHub(t)
	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")

	h.HandleTermination("a")
	h.HandleTermination("a") // second call observes nothing to clean
	h.HandleTermination("b")
	h.HandleTermination("b")

	if s.ended != 1 {
		t.Errorf("session ended counter = %d, want 1", s.ended)
	}
	if s.closed != 2 {
		t.Errorf("connection closed counter = %d, want 2", s.closed)
	}
	if got := n.of("stranger_disconnected"); len(got) != 1 {
		t.Errorf("stranger_disconnected fired %d times, want 1", len(got))
	}
	if h.Online() != 0 {
		t.Errorf("online = %d, want 0", h.Online())
	}
}

func TestHub_StaleWaiterDiscarded(t *testing.T) {
	h, n, _ := newTestHub(t)
	register(t, h, "a", "b", "c")

	h.RequestMatch("a")
	// a drops out while still queued but with an inconsistent removal
	// order: simulate a waiter that left the registry without passing
	// through HandleTermination's queue cleanup.
	h.mu.Lock()
	h.registry.Unregister("a")
	h.mu.Unlock()

	h.RequestMatch("b") // a is picked first, discarded, queue drains, b waits
	mustStatus(t, h, "b", StatusWaiting)
	if len(n.of("matched")) != 0 {
		t.Error("stale waiter must not produce a match")
	}

	h.RequestMatch("c") // pairs with b normally
	mustStatus(t, h, "b", StatusChatting)
	mustStatus(t, h, "c", StatusChatting)
}

func TestHub_ForceDisconnectClosesSocketAndCleans(t *testing.T) {
	h, _, _ := newTestHub(t)
	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")

	var kicked []string
	h.SetConnCloser(func(id string) { kicked = append(kicked, id) })

	h.ForceDisconnect("a")

	if len(kicked) != 1 || kicked[0] != "a" {
		t.Errorf("socket closer called with %v, want [a]", kicked)
	}
	if h.Online() != 1 {
		t.Errorf("online = %d, want 1", h.Online())
	}
	mustStatus(t, h, "b", StatusIdle)

	h.ForceDisconnect("ghost") // unknown id is harmless
}

func TestHub_EventSinksReceiveLifecycle(t *testing.T) {
	h, _, _ := newTestHub(t)

	var opened, ended []Session
	h.AddEventSink(sinkFuncs{
		open: func(s Session) { opened = append(opened, s) },
		end:  func(s Session) { ended = append(ended, s) },
	})

	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")
	h.RelayMessage("a", "hi")
	h.HandleTermination("b")

	if len(opened) != 1 || opened[0].Status != SessionActive {
		t.Fatalf("unexpected open events: %+v", opened)
	}
	if len(ended) != 1 {
		t.Fatalf("unexpected end events: %+v", ended)
	}
	if ended[0].ID != opened[0].ID {
		t.Error("open and end events should describe the same session")
	}
	if ended[0].Status != SessionEnded || ended[0].MessageCount != 1 {
		t.Errorf("end event should carry the final record: %+v", ended[0])
	}
}

// sinkFuncs adapts plain funcs to the EventSink interface.
type sinkFuncs struct {
	open func(Session)
	end  func(Session)
}

func (s sinkFuncs) SessionOpened(sess Session) { s.open(sess) }
func (s sinkFuncs) SessionEnded(sess Session)  { s.end(sess) }

func TestHub_NilStatsSink(t *testing.T) {
	n := &recordingNotifier{}
	h := NewHub(n, nil)

	register(t, h, "a", "b")
	h.RequestMatch("a")
	h.RequestMatch("b")
	h.RelayMessage("a", "hi")
	h.HandleTermination("a")
	h.HandleTermination("b")
	// Reaching here without a nil dereference is the assertion.
}
