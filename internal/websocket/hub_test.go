package websocket

import (
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := NewClient(hub, nil)
	c2 := NewClient(hub, nil)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Errorf("ClientCount() = %d, want 2", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}

	// Unregistering twice must be safe.
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() after double unregister = %d, want 1", got)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())

	c := NewClient(hub, nil)
	hub.Register(c)

	hub.Broadcast(CreditsChanged("guest", 7, "deduct"))

	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != "credits_changed" || msg.Identity != "guest" || msg.Credits != 7 {
			t.Errorf("got %+v", msg)
		}
		if reason, _ := msg.Extra["reason"].(string); reason != "deduct" {
			t.Errorf("reason = %q, want deduct", reason)
		}
	default:
		t.Fatal("no message delivered to client")
	}
}

func TestHubBroadcastDropsWhenClientFull(t *testing.T) {
	hub := NewHub(slog.Default())

	c := NewClient(hub, nil)
	hub.Register(c)

	// Fill the client's buffer, then one more: the extra must be dropped
	// without blocking.
	for i := 0; i < cap(c.send)+1; i++ {
		hub.Broadcast(CreditsChanged("user", i, ""))
	}

	if got := len(c.send); got != cap(c.send) {
		t.Errorf("buffered = %d, want %d", got, cap(c.send))
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(slog.Default())

	c := NewClient(hub, nil)
	hub.Register(c)
	hub.Unregister(c)

	if _, open := <-c.send; open {
		t.Error("send channel still open after unregister")
	}
}
