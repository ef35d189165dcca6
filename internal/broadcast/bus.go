// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mbeaufort/opscache/internal/logging"
)

// Handler receives one mutation event. Handlers run on the bus dispatch
// goroutine and must not block.
type Handler func(Event)

// Channel is the pub/sub surface the cache manager depends on.
type Channel interface {
	// Broadcast publishes one event to every subscriber, local and remote.
	Broadcast(ctx context.Context, ev Event) error

	// Subscribe registers a handler for every received event, including
	// events this process broadcast itself. The returned function
	// unsubscribes.
	Subscribe(h Handler) func()

	// Close stops dispatching and releases the transport.
	Close() error
}

// Bus implements Channel on a Watermill publisher/subscriber pair. One
// dispatch goroutine consumes the transport and fans events out to local
// handlers, so same-process subscribers and cross-process subscribers see
// the same stream.
type Bus struct {
	publisher message.Publisher
	topic     string

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus wires a bus onto an already-connected transport. The subscriber is
// consumed until Close.
func NewBus(pub message.Publisher, sub message.Subscriber, topic string) (*Bus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	b := &Bus{
		publisher: pub,
		topic:     topic,
		handlers:  make(map[int]Handler),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go b.dispatch(msgs)
	return b, nil
}

// Broadcast publishes one event. A transport error is returned so the caller
// can count it, but callers treat it as a degradation, not a failure of the
// mutation itself.
func (b *Bus) Broadcast(_ context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal mutation event: %w", err)
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("broadcast bus closed")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish mutation event: %w", err)
	}
	return nil
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Close stops the dispatch loop. The underlying transport is owned by the
// caller that constructed it and is closed separately.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	<-b.done
	return nil
}

// dispatch consumes transport messages and fans them out to handlers.
// Undecodable messages are acked and dropped; replaying them would fail the
// same way forever.
func (b *Bus) dispatch(msgs <-chan *message.Message) {
	defer close(b.done)

	for msg := range msgs {
		ev, err := UnmarshalEvent(msg.Payload)
		if err != nil {
			logging.Warn().Err(err).Str("message_uuid", msg.UUID).
				Msg("dropping malformed mutation event")
			msg.Ack()
			continue
		}

		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers))
		for _, h := range b.handlers {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}

		msg.Ack()
	}
}
