// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package persist

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mbeaufort/opscache/internal/logging"
)

// snapKeyPrefix namespaces snapshot keys inside the shared Badger database.
const snapKeyPrefix = "snap:"

// BadgerStore implements Store on BadgerDB. It is the production backend:
// snapshots survive restarts the way the original per-tab storage survived
// page reloads.
type BadgerStore struct {
	db             *badger.DB
	gcDiscardRatio float64
	inMemory       bool
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the whole database in memory. Snapshots then survive
	// manager restarts within the process but not process restarts; mainly
	// useful for tests and ephemeral deployments.
	InMemory bool

	// GCDiscardRatio is passed to value-log GC. Default: 0.5.
	GCDiscardRatio float64
}

// OpenBadger opens (or creates) the snapshot database.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if opts.GCDiscardRatio <= 0 {
		opts.GCDiscardRatio = 0.5
	}

	badgerOpts := badger.DefaultOptions(opts.Path).WithInMemory(opts.InMemory)
	// Reduce logging verbosity
	badgerOpts.Logger = nil

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Msg("snapshot store opened")

	return &BadgerStore{db: db, gcDiscardRatio: opts.GCDiscardRatio, inMemory: opts.InMemory}, nil
}

// storageKey builds the Badger key for one cache key. Domain names cannot
// contain ':' (enforced by config validation), so the prefix is unambiguous
// even though cache keys themselves contain ':'.
func storageKey(domain, key string) []byte {
	return []byte(snapKeyPrefix + domain + ":" + key)
}

// domainPrefix is the Badger key prefix covering one domain's snapshots.
func domainPrefix(domain string) []byte {
	return []byte(snapKeyPrefix + domain + ":")
}

// Save writes the snapshot for one cache key.
func (s *BadgerStore) Save(domain, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s:%s: %w", domain, key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey(domain, key), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s:%s: %w", domain, key, err)
	}
	return nil
}

// Delete removes the snapshot for one cache key.
func (s *BadgerStore) Delete(domain, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storageKey(domain, key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete snapshot %s:%s: %w", domain, key, err)
	}
	return nil
}

// Load restores every snapshot of a domain. Entries that fail to decode are
// skipped with a warning; a corrupt snapshot must not block a warm start.
func (s *BadgerStore) Load(domain string) (map[string]Snapshot, error) {
	prefix := domainPrefix(domain)
	out := make(map[string]Snapshot)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			cacheKey := string(item.Key()[len(prefix):])

			err := item.Value(func(val []byte) error {
				var snap Snapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					logging.Warn().
						Str("domain", domain).
						Str("key", cacheKey).
						Err(err).
						Msg("skipping corrupt snapshot")
					return nil
				}
				out[cacheKey] = snap
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %s: %w", domain, err)
	}
	return out, nil
}

// DropOlderThan removes every snapshot of a domain older than cutoff.
func (s *BadgerStore) DropOlderThan(domain string, cutoff time.Time) (int, error) {
	snaps, err := s.Load(domain)
	if err != nil {
		return 0, err
	}

	dropped := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for key, snap := range snaps {
			if snap.FetchedAt.Before(cutoff) {
				if err := txn.Delete(storageKey(domain, key)); err != nil {
					return err
				}
				dropped++
			}
		}
		return nil
	})
	if err != nil {
		return dropped, fmt.Errorf("compact snapshots for %s: %w", domain, err)
	}
	return dropped, nil
}

// RunGC runs one Badger value-log GC cycle. Badger returns ErrNoRewrite when
// there is nothing to reclaim; that is not a failure.
func (s *BadgerStore) RunGC() error {
	if s.inMemory {
		// No value log to rewrite in in-memory mode.
		return nil
	}
	err := s.db.RunValueLogGC(s.gcDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("snapshot store gc: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
