// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package broadcast propagates mutation events between cache consumers.
//
// The original system abused browser storage-change notifications as a
// cross-tab message bus. Here the bus is explicit: Watermill carries events
// over a pluggable transport, either an in-process Go channel (one instance,
// many subscribers) or NATS JetStream (many instances). The cache manager's
// logic is transport-agnostic.
//
// Delivery is best-effort and at-most-once per broadcast. A broken transport
// degrades cross-instance sync; it never fails the mutation that triggered
// the event.
package broadcast

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mbeaufort/opscache/internal/record"
)

// Action is the kind of mutation an event describes.
type Action string

// Mutation actions.
const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Event is one mutation notification. Record carries the full document for
// add/update; for delete only the id field is required.
type Event struct {
	Action    Action        `json:"action"`
	Domain    string        `json:"domain"`
	Key       string        `json:"key"`
	Record    record.Record `json:"record,omitempty"`
	Origin    string        `json:"origin"`
	EmittedAt time.Time     `json:"emitted_at"`
}

// Validate checks the fields every consumer depends on.
func (e Event) Validate() error {
	if !e.Action.Valid() {
		return fmt.Errorf("invalid event action %q", e.Action)
	}
	if e.Domain == "" || e.Key == "" {
		return fmt.Errorf("event missing domain or key")
	}
	if e.Record.ID() == "" {
		return fmt.Errorf("event record missing id")
	}
	return nil
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes a wire payload.
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode mutation event: %w", err)
	}
	return e, nil
}
