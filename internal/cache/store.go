// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/metrics"
	"github.com/mbeaufort/opscache/internal/persist"
	"github.com/mbeaufort/opscache/internal/record"
)

// Store holds one domain's cached collections and their freshness metadata.
//
// Every key present in entries has a matching stamp; a key without a stamp
// is treated as expired. Store operations never return errors: snapshot
// persistence is best-effort, with a forced compaction and one retry when a
// write fails, after which the failure is swallowed and the in-memory state
// stays authoritative for the session.
type Store struct {
	domain string
	policy TTLPolicy

	mu      sync.RWMutex
	entries map[string][]record.Record
	stamps  map[string]time.Time

	maxEntries int
	compactAge time.Duration
	snapshots  persist.Store // nil disables persistence
	now        Clock
	logger     zerolog.Logger
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Domain     string
	Policy     TTLPolicy
	MaxEntries int

	// CompactAge is the cutoff for the forced compaction pass after a
	// failed snapshot write. Default: 24h.
	CompactAge time.Duration

	// Snapshots is the durable backend; nil keeps the store memory-only.
	Snapshots persist.Store

	// Now overrides the clock in tests.
	Now Clock
}

// NewStore creates an empty store for one domain.
func NewStore(opts StoreOptions) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 64
	}
	if opts.CompactAge <= 0 {
		opts.CompactAge = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		domain:     opts.Domain,
		policy:     opts.Policy,
		entries:    make(map[string][]record.Record),
		stamps:     make(map[string]time.Time),
		maxEntries: opts.MaxEntries,
		compactAge: opts.CompactAge,
		snapshots:  opts.Snapshots,
		now:        opts.Now,
		logger:     logging.With("cache").Str("domain", opts.Domain).Logger(),
	}
}

// Restore loads the domain's snapshots into memory, returning the number of
// keys restored. Stale snapshots are restored as-is; the TTL check at read
// time decides whether they are servable.
func (s *Store) Restore() int {
	if s.snapshots == nil {
		return 0
	}

	snaps, err := s.snapshots.Load(s.domain)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot restore failed; starting cold")
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, snap := range snaps {
		s.entries[key] = snap.Records
		s.stamps[key] = snap.FetchedAt
	}
	s.enforceCapacityLocked()
	s.updateGauge()

	return len(s.entries)
}

// Get returns the cached collection for key when it is present and fresh.
// Absent and stale are indistinguishable to the caller: both are a miss.
// The returned slice is a copy; callers may mutate it freely.
func (s *Store) Get(key string) ([]record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	stamp, ok := s.stamps[key]
	if !ok {
		// Metadata lost; same as expired.
		return nil, false
	}

	now := s.now()
	if now.Sub(stamp) >= s.policy.TTL(key, now) {
		return nil, false
	}
	return record.CloneSlice(recs), true
}

// Stamp returns the lastFetchedAt metadata for key.
func (s *Store) Stamp(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stamp, ok := s.stamps[key]
	return stamp, ok
}

// Len returns the number of cached keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Put stores a collection under key, stamps it fresh, persists the
// snapshot, and enforces the capacity bound.
func (s *Store) Put(key string, recs []record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = record.CloneSlice(recs)
	s.stamps[key] = s.now()
	s.persistLocked(key)
	s.enforceCapacityLocked()
	s.updateGauge()
}

// Patch applies one mutation to the cached collection for key, in place.
// It reports whether anything changed; on success the key is re-stamped
// fresh (a patch carries the same authority about current remote state as a
// fetch) and re-persisted.
//
// Patches for keys that are not cached are silently ignored: the cache
// never fetches implicitly on a patch.
func (s *Store) Patch(key string, action broadcast.Action, rec record.Record) bool {
	id := rec.ID()
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.entries[key]
	if !ok {
		return false
	}

	changed := false
	switch action {
	case broadcast.ActionAdd:
		if !rec.MatchesPeriod(KeyPeriod(key)) {
			break
		}
		if i := record.IndexOf(recs, id); i >= 0 {
			// A re-broadcast add for a record we already hold is an
			// update; appending would violate id uniqueness.
			recs[i].Merge(rec)
		} else {
			recs = append(recs, rec.Clone())
		}
		changed = true

	case broadcast.ActionUpdate:
		if i := record.IndexOf(recs, id); i >= 0 {
			recs[i].Merge(rec)
			changed = true
		}

	case broadcast.ActionDelete:
		if i := record.IndexOf(recs, id); i >= 0 {
			recs = append(recs[:i], recs[i+1:]...)
			changed = true
		}
	}

	if !changed {
		return false
	}

	s.entries[key] = recs
	s.stamps[key] = s.now()
	s.persistLocked(key)
	metrics.CachePatches.WithLabelValues(s.domain, string(action)).Inc()
	return true
}

// Evict removes key's entry and metadata. The next Get for key misses.
func (s *Store) Evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return
	}
	s.dropLocked(key)
	metrics.CacheEvictions.WithLabelValues(s.domain, "invalidate").Inc()
	s.updateGauge()
}

// Sweep evicts every key stamped before now-maxAge, regardless of TTL
// class, and compacts durable storage to match. Returns the number evicted.
func (s *Store) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	evicted := 0
	for key, stamp := range s.stamps {
		if stamp.Before(cutoff) {
			s.dropLocked(key)
			evicted++
		}
	}
	if s.snapshots != nil {
		if _, err := s.snapshots.DropOlderThan(s.domain, cutoff); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot sweep failed")
		}
	}
	if evicted > 0 {
		metrics.CacheEvictions.WithLabelValues(s.domain, "sweep").Add(float64(evicted))
		s.updateGauge()
	}
	return evicted
}

// dropLocked removes one key from memory and durable storage.
func (s *Store) dropLocked(key string) {
	delete(s.entries, key)
	delete(s.stamps, key)
	if s.snapshots != nil {
		if err := s.snapshots.Delete(s.domain, key); err != nil {
			s.logger.Warn().Str("key", key).Err(err).Msg("snapshot delete failed")
		}
	}
}

// enforceCapacityLocked bounds the store to maxEntries by evicting the
// oldest-stamped keys. Puts add one key at a time, so this usually evicts
// at most one entry; the loop also repairs an oversized restore.
func (s *Store) enforceCapacityLocked() {
	for len(s.entries) > s.maxEntries {
		oldestKey := ""
		var oldest time.Time
		for key, stamp := range s.stamps {
			if oldestKey == "" || stamp.Before(oldest) {
				oldestKey = key
				oldest = stamp
			}
		}
		if oldestKey == "" {
			return
		}
		s.dropLocked(oldestKey)
		metrics.CacheEvictions.WithLabelValues(s.domain, "capacity").Inc()
	}
}

// persistLocked writes one key's snapshot. On failure it runs a forced
// compaction pass (evicting entries older than compactAge from memory and
// durable storage) and retries once; a second failure is logged and
// swallowed. Durability is best-effort, correctness is not.
func (s *Store) persistLocked(key string) {
	if s.snapshots == nil {
		return
	}

	snap := persist.Snapshot{Records: s.entries[key], FetchedAt: s.stamps[key]}
	err := s.snapshots.Save(s.domain, key, snap)
	if err == nil {
		metrics.SnapshotWrites.WithLabelValues(s.domain, "ok").Inc()
		return
	}

	s.logger.Warn().Str("key", key).Err(err).
		Msg("snapshot write failed; compacting and retrying")
	s.compactLocked(key)

	if err := s.snapshots.Save(s.domain, key, snap); err != nil {
		metrics.SnapshotWrites.WithLabelValues(s.domain, "failed").Inc()
		s.logger.Error().Str("key", key).Err(err).
			Msg("snapshot write failed after compaction; entry is memory-only")
		return
	}
	metrics.SnapshotWrites.WithLabelValues(s.domain, "retried").Inc()
}

// compactLocked evicts every key older than compactAge except keep, and
// drops the corresponding snapshots.
func (s *Store) compactLocked(keep string) {
	cutoff := s.now().Add(-s.compactAge)
	compacted := 0
	for key, stamp := range s.stamps {
		if key != keep && stamp.Before(cutoff) {
			s.dropLocked(key)
			compacted++
		}
	}
	if s.snapshots != nil {
		if _, err := s.snapshots.DropOlderThan(s.domain, cutoff); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot compaction failed")
		}
	}
	if compacted > 0 {
		metrics.CacheEvictions.WithLabelValues(s.domain, "compaction").Add(float64(compacted))
		s.updateGauge()
	}
}

// updateGauge refreshes the per-domain entry count gauge. Callers hold mu.
func (s *Store) updateGauge() {
	metrics.CacheEntries.WithLabelValues(s.domain).Set(float64(len(s.entries)))
}
