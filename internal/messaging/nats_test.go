package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/strangr/chat-server/internal/core"
)

// newTestPublisher connects to a local NATS server, skipping the test
// when none is available.
func newTestPublisher(t *testing.T) (*Publisher, *nats.Conn) {
	t.Helper()
	config := DefaultConfig()
	config.Name = "chat-server-test"

	p, err := Connect(config)
	if err != nil {
		t.Skipf("skipping: NATS not available: %v", err)
	}
	t.Cleanup(p.Close)

	sub, err := nats.Connect(config.URL)
	if err != nil {
		t.Fatalf("subscriber connect failed: %v", err)
	}
	t.Cleanup(sub.Close)
	return p, sub
}

func TestPublisher_SessionEnded(t *testing.T) {
	p, nc := newTestPublisher(t)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(SubjectSessionEnded, ch)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	sess := core.Session{ID: "s-1", UserA: "a", UserB: "b", Status: core.SessionEnded}
	p.SessionEnded(sess)

	select {
	case msg := <-ch:
		var got core.Session
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("payload is not a session record: %v", err)
		}
		if got.ID != "s-1" || got.Status != core.SessionEnded {
			t.Errorf("unexpected payload: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session.ended event never arrived")
	}
}

func TestPublisher_NilIsSafe(t *testing.T) {
	var p *Publisher

	p.PublishStats(map[string]int{"online": 1})
	p.PublishConnections(nil)
	p.SessionOpened(core.Session{ID: "x"})
	p.SessionEnded(core.Session{ID: "x"})
	p.Close()
	// No panic is the assertion.
}
