package core

import (
	"errors"
	"testing"
)

func TestRegistry_RegisterTwice(t *testing.T) {
	r := NewRegistry()

	c, err := r.Register("a")
	if err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if c.Status != StatusIdle {
		t.Errorf("new connection should be idle, got %q", c.Status)
	}
	if c.ConnectedSince.IsZero() {
		t.Error("ConnectedSince should be set at creation")
	}

	if _, err := r.Register("a"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second register should return ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_UnregisterAbsent(t *testing.T) {
	r := NewRegistry()
	r.Unregister("ghost") // must not panic

	if _, err := r.Register("a"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	r.Unregister("a")
	r.Unregister("a") // double unregister is a no-op

	if r.Get("a") != nil {
		t.Error("connection should be gone after unregister")
	}
	if r.Len() != 0 {
		t.Errorf("registry should be empty, len=%d", r.Len())
	}
}

func TestRegistry_SetStatus(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("a"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	r.SetStatus("a", StatusChatting, "b", "sess-1")
	c := r.Get("a")
	if c.Status != StatusChatting || c.PartnerID != "b" || c.SessionID != "sess-1" {
		t.Errorf("unexpected state after SetStatus: %+v", c)
	}

	r.SetStatus("a", StatusIdle, "", "")
	c = r.Get("a")
	if c.Status != StatusIdle || c.PartnerID != "" || c.SessionID != "" {
		t.Errorf("partner/session should be cleared on idle: %+v", c)
	}

	r.SetStatus("ghost", StatusWaiting, "", "") // absent id is ignored
}

func TestRegistry_AllReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.Register("b")

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(all))
	}

	all[0].Status = StatusChatting
	if r.Get(all[0].ID).Status != StatusIdle {
		t.Error("mutating the snapshot should not affect the registry")
	}
}
