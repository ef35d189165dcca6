// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package persist stores cache snapshots durably so a restarted instance can
// serve from cache immediately instead of refetching every domain.
//
// One Store is shared by every domain cache manager; each manager owns a
// disjoint key namespace prefixed by its domain name, so managers never
// collide. Durability is best-effort: the in-memory cache stays authoritative
// for the session, and a snapshot write failure degrades persistence, never
// correctness.
package persist

import (
	"time"

	"github.com/mbeaufort/opscache/internal/record"
)

// Snapshot is the durable form of one cache entry together with its
// freshness metadata. FetchedAt drives TTL checks after a restart, so a
// snapshot restored hours later is correctly seen as stale.
type Snapshot struct {
	Records   []record.Record `json:"records"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Store is the durable snapshot backend.
//
// Implementations must be safe for concurrent use by multiple domain
// managers.
type Store interface {
	// Save writes the snapshot for one cache key.
	Save(domain, key string, snap Snapshot) error

	// Delete removes the snapshot for one cache key. Deleting an absent
	// key is not an error.
	Delete(domain, key string) error

	// Load restores every snapshot of a domain, keyed by cache key.
	Load(domain string) (map[string]Snapshot, error)

	// DropOlderThan removes every snapshot of a domain whose FetchedAt is
	// before cutoff, returning the number removed. Used by the forced
	// compaction pass after a failed Save and by the periodic sweep.
	DropOlderThan(domain string, cutoff time.Time) (int, error)

	// RunGC reclaims storage space where the backend supports it.
	RunGC() error

	// Close releases backend resources.
	Close() error
}
