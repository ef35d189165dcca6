// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/persist"
	"github.com/mbeaufort/opscache/internal/record"
)

// fakeClock is an adjustable time source shared by a test and the code
// under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testPolicy = TTLPolicy{Current: 5 * time.Minute, Historical: time.Hour}

func newTestStore(t *testing.T, clk *fakeClock, snaps persist.Store) *Store {
	t.Helper()
	return NewStore(StoreOptions{
		Domain:    "attendance",
		Policy:    testPolicy,
		Snapshots: snaps,
		Now:       clk.Now,
	})
}

func rec(id string, extra ...string) record.Record {
	r := record.Record{record.FieldID: id}
	for i := 0; i+1 < len(extra); i += 2 {
		r[extra[i]] = extra[i+1]
	}
	return r
}

func TestStoreGetMissesWhenEmpty(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)

	if _, ok := s.Get("attendance:2026-08-31"); ok {
		t.Fatal("expected miss on empty store")
	}
}

func TestStoreGetExpiry(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)

	current := "attendance:2026-08-31"
	historical := "attendance:2026-01-15"
	s.Put(current, []record.Record{rec("a")})
	s.Put(historical, []record.Record{rec("b")})

	if _, ok := s.Get(current); !ok {
		t.Fatal("fresh current entry should hit")
	}
	if _, ok := s.Get(historical); !ok {
		t.Fatal("fresh historical entry should hit")
	}

	// Past the short TTL but inside the long one.
	clk.Advance(10 * time.Minute)
	if _, ok := s.Get(current); ok {
		t.Error("current entry should expire after its short TTL")
	}
	if _, ok := s.Get(historical); !ok {
		t.Error("historical entry should survive past the short TTL")
	}

	clk.Advance(time.Hour)
	if _, ok := s.Get(historical); ok {
		t.Error("historical entry should expire after its long TTL")
	}
}

func TestStoreGetReturnsCopies(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a", "status", "in")})

	got, _ := s.Get(key)
	got[0]["status"] = "tampered"

	again, _ := s.Get(key)
	if again[0]["status"] != "in" {
		t.Error("caller mutation leaked into the cached collection")
	}
}

func TestStorePatchAdd(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a")})

	if !s.Patch(key, broadcast.ActionAdd, rec("b", record.FieldDate, "2026-08-31")) {
		t.Fatal("add should apply")
	}
	got, _ := s.Get(key)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}

func TestStorePatchAddDeduplicates(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a", "status", "in")})

	// Adding an id that already exists merges instead of duplicating.
	if !s.Patch(key, broadcast.ActionAdd, rec("a", "status", "out")) {
		t.Fatal("duplicate add should apply as an update")
	}
	got, _ := s.Get(key)
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0]["status"] != "out" {
		t.Errorf("status = %q, want %q", got[0]["status"], "out")
	}
}

func TestStorePatchAddRejectsWrongPeriod(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a")})

	if s.Patch(key, broadcast.ActionAdd, rec("b", record.FieldDate, "2026-08-30")) {
		t.Error("record for another period should not be added")
	}
	got, _ := s.Get(key)
	if len(got) != 1 {
		t.Errorf("got %d records, want 1", len(got))
	}
}

func TestStorePatchUpdateIsIdempotent(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a", "status", "in", "site", "depot-7")})

	patch := rec("a", "status", "out")
	s.Patch(key, broadcast.ActionUpdate, patch)
	s.Patch(key, broadcast.ActionUpdate, patch)

	got, _ := s.Get(key)
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0]["status"] != "out" {
		t.Errorf("status = %q, want %q", got[0]["status"], "out")
	}
	if got[0]["site"] != "depot-7" {
		t.Error("shallow merge dropped an untouched field")
	}
}

func TestStorePatchUpdateAbsentIDIsNoOp(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a")})
	before, _ := s.Stamp(key)

	clk.Advance(time.Minute)
	if s.Patch(key, broadcast.ActionUpdate, rec("ghost")) {
		t.Error("update of an absent id should report no change")
	}
	after, _ := s.Stamp(key)
	if !after.Equal(before) {
		t.Error("a no-op patch must not refresh the entry's timestamp")
	}
}

func TestStorePatchDelete(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a"), rec("b")})

	if !s.Patch(key, broadcast.ActionDelete, rec("a")) {
		t.Fatal("delete of a present id should apply")
	}
	if s.Patch(key, broadcast.ActionDelete, rec("a")) {
		t.Error("second delete of the same id should be a no-op")
	}
	got, _ := s.Get(key)
	if len(got) != 1 || got[0].ID() != "b" {
		t.Errorf("got %v, want only record b", got)
	}
}

func TestStorePatchUncachedKeyIgnored(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)

	if s.Patch("attendance:2026-08-31", broadcast.ActionAdd, rec("a")) {
		t.Error("patch on an uncached key should be ignored")
	}
	if s.Len() != 0 {
		t.Error("patch on an uncached key must not create an entry")
	}
}

func TestStorePatchRefreshesTimestamp(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := newTestStore(t, clk, nil)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a")})

	clk.Advance(4 * time.Minute)
	s.Patch(key, broadcast.ActionUpdate, rec("a", "status", "out"))

	// Without the restamp the entry would expire at the 5-minute mark.
	clk.Advance(4 * time.Minute)
	if _, ok := s.Get(key); !ok {
		t.Error("successful patch should extend the entry's freshness")
	}
}

func TestStoreCapacityEvictsOldest(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	s := NewStore(StoreOptions{
		Domain:     "attendance",
		Policy:     testPolicy,
		MaxEntries: 2,
		Now:        clk.Now,
	})

	s.Put("attendance:2026-08-29", []record.Record{rec("a")})
	clk.Advance(time.Second)
	s.Put("attendance:2026-08-30", []record.Record{rec("b")})
	clk.Advance(time.Second)
	s.Put("attendance:2026-08-31", []record.Record{rec("c")})

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if _, ok := s.Get("attendance:2026-08-29"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := s.Get("attendance:2026-08-31"); !ok {
		t.Error("newest entry should remain")
	}
}

func TestStoreEvict(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	snaps := persist.NewMemoryStore()
	s := newTestStore(t, clk, snaps)
	key := "attendance:2026-08-31"
	s.Put(key, []record.Record{rec("a")})

	s.Evict(key)
	if _, ok := s.Get(key); ok {
		t.Error("evicted key should miss")
	}
	if snaps.Len("attendance") != 0 {
		t.Error("eviction should also drop the durable snapshot")
	}

	// Evicting an absent key is harmless.
	s.Evict("attendance:none")
}

func TestStoreSweep(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	snaps := persist.NewMemoryStore()
	s := newTestStore(t, clk, snaps)

	s.Put("attendance:2026-08-29", []record.Record{rec("a")})
	clk.Advance(2 * time.Hour)
	s.Put("attendance:2026-08-31", []record.Record{rec("b")})

	if got := s.Sweep(time.Hour); got != 1 {
		t.Fatalf("Sweep evicted %d keys, want 1", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if snaps.Len("attendance") != 1 {
		t.Errorf("snapshot count = %d, want 1", snaps.Len("attendance"))
	}
}

func TestStoreRestore(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	snaps := persist.NewMemoryStore()

	first := newTestStore(t, clk, snaps)
	first.Put("attendance:2026-08-31", []record.Record{rec("a", "status", "in")})

	second := newTestStore(t, clk, snaps)
	if got := second.Restore(); got != 1 {
		t.Fatalf("Restore() = %d, want 1", got)
	}
	recs, ok := second.Get("attendance:2026-08-31")
	if !ok {
		t.Fatal("restored entry should hit")
	}
	if recs[0]["status"] != "in" {
		t.Error("restored record lost a field")
	}

	// Restored entries keep their original timestamps, so a stale
	// snapshot misses immediately.
	clk.Advance(10 * time.Minute)
	third := newTestStore(t, clk, snaps)
	third.Restore()
	if _, ok := third.Get("attendance:2026-08-31"); ok {
		t.Error("stale restored entry should miss")
	}
}

func TestStorePersistFailureCompactsAndRetries(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	snaps := persist.NewMemoryStore()
	s := NewStore(StoreOptions{
		Domain:     "attendance",
		Policy:     testPolicy,
		CompactAge: time.Hour,
		Snapshots:  snaps,
		Now:        clk.Now,
	})

	s.Put("attendance:2026-08-29", []record.Record{rec("old")})
	clk.Advance(2 * time.Hour)

	snaps.FailNextSaves(1)
	s.Put("attendance:2026-08-31", []record.Record{rec("new")})

	// The failed save triggered compaction of the aged-out key and a
	// retry; caching itself never fails.
	if _, ok := s.Get("attendance:2026-08-31"); !ok {
		t.Fatal("entry should be cached despite the first save failing")
	}
	if _, ok := s.Get("attendance:2026-08-29"); ok {
		t.Error("compaction should have evicted the aged-out key")
	}
	if snaps.Len("attendance") != 1 {
		t.Errorf("snapshot count = %d, want 1 after retry", snaps.Len("attendance"))
	}
}

func TestStorePersistFailureIsSwallowed(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	snaps := persist.NewMemoryStore()
	s := newTestStore(t, clk, snaps)

	snaps.FailNextSaves(2) // first attempt and the retry both fail
	s.Put("attendance:2026-08-31", []record.Record{rec("a")})

	if _, ok := s.Get("attendance:2026-08-31"); !ok {
		t.Error("in-memory caching must survive total persistence failure")
	}
}
