// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/metrics"
	"github.com/mbeaufort/opscache/internal/record"
)

// Fetcher is the remote fetch boundary: the only path to the authoritative
// document store for reads. Implementations must not cache; de-duplication
// of concurrent identical requests is the Manager's job.
type Fetcher interface {
	Fetch(ctx context.Context, key string, params map[string]string) ([]record.Record, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, key string, params map[string]string) ([]record.Record, error)

// Fetch implements Fetcher.
func (f FetchFunc) Fetch(ctx context.Context, key string, params map[string]string) ([]record.Record, error) {
	return f(ctx, key, params)
}

// Writer is the remote mutation boundary for one domain's collection.
type Writer interface {
	Insert(ctx context.Context, rec record.Record) (string, error)
	Update(ctx context.Context, id string, rec record.Record) error
	Delete(ctx context.Context, id string) error
}

// Manager is the per-domain cache manager: the only surface page-level code
// talks to. Reads go through the store and fall back to the remote fetch
// boundary; mutations go remote-first, then patch the local cache, then
// broadcast. One Manager is constructed per domain and shared by reference.
type Manager struct {
	domain  string
	store   *Store
	fetcher Fetcher
	writer  Writer
	channel broadcast.Channel // nil degrades to local-only operation
	origin  string
	now     Clock
	logger  zerolog.Logger

	flight singleflight.Group

	subMu       sync.RWMutex
	subscribers map[int]broadcast.Handler
	nextSubID   int

	unsubscribe func()
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Domain  string
	Store   *Store
	Fetcher Fetcher

	// Writer may be nil for read-only domains; Mutate then fails.
	Writer Writer

	// Channel may be nil; mutations then stay local to this instance.
	Channel broadcast.Channel

	// Origin identifies this instance in broadcast events. Defaults to a
	// random UUID.
	Origin string

	// Restore warms the store from durable snapshots during construction.
	Restore bool

	// Now overrides the clock in tests.
	Now Clock
}

// NewManager wires a cache manager for one domain and, when a channel is
// configured, subscribes it to mutation events from sibling instances.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Domain == "" {
		return nil, fmt.Errorf("cache manager requires a domain")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("cache manager %q requires a store", opts.Domain)
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("cache manager %q requires a fetcher", opts.Domain)
	}
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		domain:      opts.Domain,
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		writer:      opts.Writer,
		channel:     opts.Channel,
		origin:      opts.Origin,
		now:         opts.Now,
		logger:      logging.With("cache").Str("domain", opts.Domain).Logger(),
		subscribers: make(map[int]broadcast.Handler),
	}

	if opts.Restore {
		if restored := m.store.Restore(); restored > 0 {
			m.logger.Info().Int("keys", restored).Msg("cache warmed from snapshots")
		}
	}

	if m.channel != nil {
		m.unsubscribe = m.channel.Subscribe(m.onEvent)
	}

	return m, nil
}

// Domain returns the domain this manager serves.
func (m *Manager) Domain() string { return m.domain }

// Origin returns this manager's broadcast origin ID.
func (m *Manager) Origin() string { return m.origin }

// Get returns the collection for key, serving from cache when fresh and
// fetching through the remote boundary otherwise. Concurrent calls for the
// same missing key coalesce onto a single remote fetch; every caller
// receives its own copy of the result.
//
// On a failed fetch the cache is left untouched and a *FetchError is
// returned.
func (m *Manager) Get(ctx context.Context, key string, params map[string]string) ([]record.Record, error) {
	if err := m.checkKey(key); err != nil {
		return nil, err
	}

	if recs, ok := m.store.Get(key); ok {
		metrics.CacheHits.WithLabelValues(m.domain).Inc()
		return recs, nil
	}
	metrics.CacheMisses.WithLabelValues(m.domain).Inc()

	// The fetch is detached from the caller's context: a coalesced fetch
	// proceeds to completion and populates the cache even when the caller
	// that started it goes away mid-flight.
	fetchCtx := context.WithoutCancel(ctx)

	v, err, shared := m.flight.Do(key, func() (interface{}, error) {
		// A coalesced caller may arrive after the leader already
		// populated the store; serve that instead of refetching.
		if recs, ok := m.store.Get(key); ok {
			return recs, nil
		}

		start := m.now()
		recs, fetchErr := m.fetcher.Fetch(fetchCtx, key, params)
		metrics.RemoteFetchDuration.
			WithLabelValues(m.domain, metrics.StatusLabel(fetchErr)).
			Observe(m.now().Sub(start).Seconds())
		if fetchErr != nil {
			return nil, &FetchError{Key: key, Err: fetchErr}
		}

		m.store.Put(key, recs)
		return recs, nil
	})
	if shared {
		metrics.FetchesCoalesced.WithLabelValues(m.domain).Inc()
	}
	if err != nil {
		return nil, err
	}

	return record.CloneSlice(v.([]record.Record)), nil
}

// Mutate performs one create/update/delete: the remote write first, then
// the local patch, then the broadcast, in that order. A rejected remote
// write aborts everything after it and returns a *WriteError; the cached
// collection is byte-for-byte unchanged and nothing is broadcast.
//
// Broadcast failures never surface: sibling instances fall behind until
// their TTLs expire, but the mutation itself succeeded.
func (m *Manager) Mutate(ctx context.Context, key string, action broadcast.Action, rec record.Record) error {
	if err := m.checkKey(key); err != nil {
		return err
	}
	if !action.Valid() {
		return fmt.Errorf("unknown mutation action %q", action)
	}
	if m.writer == nil {
		return fmt.Errorf("domain %q is read-only", m.domain)
	}
	if action != broadcast.ActionAdd && rec.ID() == "" {
		return fmt.Errorf("%s requires a record id", action)
	}

	rec = rec.Clone()
	var err error
	switch action {
	case broadcast.ActionAdd:
		var id string
		id, err = m.writer.Insert(ctx, rec)
		if err == nil && rec.ID() == "" {
			rec[record.FieldID] = id
		}
	case broadcast.ActionUpdate:
		err = m.writer.Update(ctx, rec.ID(), rec)
	case broadcast.ActionDelete:
		err = m.writer.Delete(ctx, rec.ID())
	}
	metrics.RemoteWrites.
		WithLabelValues(m.domain, string(action), metrics.StatusLabel(err)).Inc()
	if err != nil {
		return &WriteError{Key: key, Action: action, Err: err}
	}

	m.store.Patch(key, action, rec)
	m.broadcastEvent(ctx, action, key, rec)
	return nil
}

// Invalidate forces the next Get for key to miss.
func (m *Manager) Invalidate(key string) {
	m.store.Evict(key)
}

// Sweep evicts entries older than maxAge; see Store.Sweep. Exposed for the
// periodic sweep service.
func (m *Manager) Sweep(maxAge time.Duration) int {
	return m.store.Sweep(maxAge)
}

// SubscribeToChanges registers a handler invoked for every patch that
// originated on another instance, so UI code can re-render without polling.
// The handler runs on the broadcast dispatch goroutine and must not block.
// The returned function unsubscribes.
func (m *Manager) SubscribeToChanges(h broadcast.Handler) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = h
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

// Close detaches the manager from the broadcast channel.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// checkKey rejects keys outside this manager's namespace; every key is
// "{domain}:{period-or-id}".
func (m *Manager) checkKey(key string) error {
	if !strings.HasPrefix(key, m.domain+":") {
		return fmt.Errorf("key %q is outside domain %q", key, m.domain)
	}
	return nil
}

// broadcastEvent publishes one mutation event; failures degrade to
// local-only operation.
func (m *Manager) broadcastEvent(ctx context.Context, action broadcast.Action, key string, rec record.Record) {
	if m.channel == nil {
		return
	}

	ev := broadcast.Event{
		Action:    action,
		Domain:    m.domain,
		Key:       key,
		Record:    rec,
		Origin:    m.origin,
		EmittedAt: m.now(),
	}
	err := m.channel.Broadcast(ctx, ev)
	metrics.BroadcastsPublished.
		WithLabelValues(m.domain, metrics.StatusLabel(err)).Inc()
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).
			Msg("broadcast failed; siblings will catch up on TTL expiry")
	}
}

// onEvent handles one event from the broadcast channel. Events this manager
// published are skipped (the patch was already applied synchronously in
// Mutate); everything else is patched in and forwarded to local
// subscribers.
func (m *Manager) onEvent(ev broadcast.Event) {
	if ev.Domain != m.domain {
		return
	}
	if ev.Origin == m.origin {
		metrics.BroadcastsReceived.WithLabelValues(m.domain, "self").Inc()
		return
	}
	metrics.BroadcastsReceived.WithLabelValues(m.domain, "remote").Inc()

	if ev.Validate() != nil {
		return
	}
	m.store.Patch(ev.Key, ev.Action, ev.Record)

	m.subMu.RLock()
	handlers := make([]broadcast.Handler, 0, len(m.subscribers))
	for _, h := range m.subscribers {
		handlers = append(handlers, h)
	}
	m.subMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
