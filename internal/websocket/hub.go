// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package websocket pushes cache mutation events to connected dashboard
// pages so they can re-render without polling.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/metrics"
)

// Message types pushed to and accepted from pages.
const (
	MessageTypeMutation = "mutation"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the envelope for everything on a page's socket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks connected pages and fans mutation events out to them. It is
// fed from the broadcast channel, so pages see mutations from this
// instance and from siblings alike.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an idle hub; call Run under a supervisor to start it.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run processes client lifecycle and fan-out until the context is
// canceled, then closes every connected page. Lifecycle events take
// priority over pending broadcasts so the client set is settled before
// messages are delivered.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// HandleMutation enqueues one mutation event for delivery to every page.
// It satisfies broadcast.Handler, so the hub can be subscribed straight
// onto the event bus. A full queue drops the message; pages recover on
// their next cache read.
func (h *Hub) HandleMutation(ev broadcast.Event) {
	select {
	case h.broadcast <- Message{Type: MessageTypeMutation, Data: ev}:
	default:
		logging.Warn().
			Str("domain", ev.Domain).
			Str("key", ev.Key).
			Msg("websocket queue full, dropping mutation push")
	}
}

// ClientCount returns the number of connected pages.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// deliver fans one message out in client-ID order. A client whose queue is
// full is dropped; its socket is slower than the mutation stream and it
// can resubscribe with a fresh read.
func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range toRemove {
		close(c.send)
		delete(h.clients, c)
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WSConnections.Set(0)
	logging.Info().Int("clients_closed", count).Msg("websocket hub stopped")
}
