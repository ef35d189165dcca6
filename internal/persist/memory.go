// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package persist

import (
	"errors"
	"sync"
	"time"
)

// MemoryStore implements Store with a plain map. It backs unit tests and can
// be failure-injected to exercise the compaction-and-retry path without a
// real quota-limited backend.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]map[string]Snapshot

	// FailNextSaves makes the next n Save calls fail, simulating a full
	// storage backend.
	failSaves int
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]map[string]Snapshot)}
}

// ErrStorageFull is returned by injected Save failures.
var ErrStorageFull = errors.New("snapshot storage full")

// FailNextSaves arms n consecutive Save failures.
func (s *MemoryStore) FailNextSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

// Save writes the snapshot for one cache key.
func (s *MemoryStore) Save(domain, key string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSaves > 0 {
		s.failSaves--
		return ErrStorageFull
	}

	if s.snaps[domain] == nil {
		s.snaps[domain] = make(map[string]Snapshot)
	}
	s.snaps[domain][key] = snap
	return nil
}

// Delete removes the snapshot for one cache key.
func (s *MemoryStore) Delete(domain, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps[domain], key)
	return nil
}

// Load restores every snapshot of a domain.
func (s *MemoryStore) Load(domain string) (map[string]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Snapshot, len(s.snaps[domain]))
	for k, v := range s.snaps[domain] {
		out[k] = v
	}
	return out, nil
}

// DropOlderThan removes every snapshot of a domain older than cutoff.
func (s *MemoryStore) DropOlderThan(domain string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k, v := range s.snaps[domain] {
		if v.FetchedAt.Before(cutoff) {
			delete(s.snaps[domain], k)
			dropped++
		}
	}
	return dropped, nil
}

// RunGC is a no-op for the in-memory backend.
func (s *MemoryStore) RunGC() error { return nil }

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored snapshots for a domain. Test helper.
func (s *MemoryStore) Len(domain string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps[domain])
}
