// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package persist

import (
	"testing"
	"time"

	"github.com/mbeaufort/opscache/internal/record"
)

// openTestStore opens an in-memory Badger store that is closed with the test.
func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_SaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	fetched := time.Now().Truncate(time.Millisecond)
	snap := Snapshot{
		Records:   []record.Record{{"id": "A", "status": "open"}},
		FetchedAt: fetched,
	}

	if err := store.Save("tickets", "tickets:2024-03", snap); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := store.Load("tickets")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	got, ok := loaded["tickets:2024-03"]
	if !ok {
		t.Fatalf("Expected key tickets:2024-03 in loaded snapshots, got %v", loaded)
	}
	if len(got.Records) != 1 || got.Records[0].ID() != "A" {
		t.Errorf("Expected restored record A, got %+v", got.Records)
	}
	if !got.FetchedAt.Equal(fetched) {
		t.Errorf("Expected FetchedAt %v, got %v", fetched, got.FetchedAt)
	}
}

func TestBadgerStore_DomainIsolation(t *testing.T) {
	store := openTestStore(t)

	snap := Snapshot{Records: []record.Record{{"id": "A"}}, FetchedAt: time.Now()}
	if err := store.Save("tickets", "tickets:2024-03", snap); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("leave", "leave:2024-03", snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load("tickets")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Errorf("Expected 1 snapshot for tickets domain, got %d", len(loaded))
	}
	if _, ok := loaded["leave:2024-03"]; ok {
		t.Error("Expected leave snapshot to be invisible to tickets domain")
	}
}

func TestBadgerStore_Delete(t *testing.T) {
	store := openTestStore(t)

	snap := Snapshot{Records: nil, FetchedAt: time.Now()}
	if err := store.Save("tickets", "tickets:2024-03", snap); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("tickets", "tickets:2024-03"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	loaded, err := store.Load("tickets")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expected empty domain after delete, got %v", loaded)
	}

	// Deleting an absent key is not an error.
	if err := store.Delete("tickets", "tickets:2099-01"); err != nil {
		t.Errorf("Expected nil deleting absent key, got %v", err)
	}
}

func TestBadgerStore_DropOlderThan(t *testing.T) {
	store := openTestStore(t)

	now := time.Now()
	old := Snapshot{FetchedAt: now.Add(-48 * time.Hour)}
	fresh := Snapshot{FetchedAt: now}

	if err := store.Save("tickets", "tickets:2024-01", old); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("tickets", "tickets:2024-03", fresh); err != nil {
		t.Fatal(err)
	}

	dropped, err := store.DropOlderThan("tickets", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DropOlderThan() failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("Expected 1 dropped snapshot, got %d", dropped)
	}

	loaded, err := store.Load("tickets")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded["tickets:2024-01"]; ok {
		t.Error("Expected old snapshot to be dropped")
	}
	if _, ok := loaded["tickets:2024-03"]; !ok {
		t.Error("Expected fresh snapshot to survive")
	}
}

func TestBadgerStore_RunGCInMemory(t *testing.T) {
	store := openTestStore(t)
	if err := store.RunGC(); err != nil {
		t.Errorf("Expected in-memory GC to be a no-op, got %v", err)
	}
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	store := NewMemoryStore()
	store.FailNextSaves(1)

	snap := Snapshot{FetchedAt: time.Now()}
	if err := store.Save("tickets", "k", snap); err == nil {
		t.Fatal("Expected injected save failure")
	}
	if err := store.Save("tickets", "k", snap); err != nil {
		t.Fatalf("Expected second save to succeed, got %v", err)
	}
	if store.Len("tickets") != 1 {
		t.Errorf("Expected 1 stored snapshot, got %d", store.Len("tickets"))
	}
}
