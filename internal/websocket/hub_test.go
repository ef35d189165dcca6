// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/record"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// register attaches a connection-less client and waits for the hub to
// acknowledge it.
func register(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(h, nil)
	h.Register <- c

	deadline := time.After(2 * time.Second)
	for h.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("hub never registered the client")
		case <-time.After(time.Millisecond):
		}
	}
	return c
}

func mutationEvent(key string) broadcast.Event {
	return broadcast.Event{
		Action: broadcast.ActionUpdate,
		Domain: "attendance",
		Key:    key,
		Record: record.Record{record.FieldID: "a", "status": "out"},
		Origin: "origin-test",
	}
}

func TestHubDeliversMutationsToAllClients(t *testing.T) {
	h := startHub(t)
	c1 := register(t, h)
	c2 := register(t, h)

	h.HandleMutation(mutationEvent("attendance:2026-08-31"))

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeMutation {
				t.Errorf("message type = %q, want %q", msg.Type, MessageTypeMutation)
			}
			ev, ok := msg.Data.(broadcast.Event)
			if !ok {
				t.Fatalf("payload type = %T, want broadcast.Event", msg.Data)
			}
			if ev.Key != "attendance:2026-08-31" {
				t.Errorf("event key = %q", ev.Key)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client never received the mutation")
		}
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	h := startHub(t)
	c := register(t, h)

	h.Unregister <- c
	deadline := time.After(2 * time.Second)
	for h.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("hub never unregistered the client")
		case <-time.After(time.Millisecond):
		}
	}

	// The hub closed the client's queue on unregister.
	if _, open := <-c.send; open {
		t.Error("client send channel should be closed after unregister")
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	h := startHub(t)
	c := register(t, h)

	// Nobody drains c.send; once the queue fills the hub must drop the
	// client rather than stall fan-out.
	for i := 0; i < cap(c.send)+8; i++ {
		h.HandleMutation(mutationEvent("attendance:2026-08-31"))
	}

	deadline := time.After(2 * time.Second)
	for h.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("hub never dropped the stalled client")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	c := NewClient(h, nil)
	h.Register <- c
	deadline := time.After(2 * time.Second)
	for h.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("hub never registered the client")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done

	if h.ClientCount() != 0 {
		t.Error("shutdown should close every client")
	}
	select {
	case _, open := <-c.send:
		if open {
			t.Error("client send channel should be closed by shutdown")
		}
	default:
		t.Error("client send channel should be closed, not empty")
	}
}
