// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package record

import "testing"

func TestRecord_ID(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"string id", Record{"id": "A1"}, "A1"},
		{"missing id", Record{"status": "open"}, ""},
		{"non-string id", Record{"id": 42}, ""},
		{"nil record", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.ID(); got != tt.want {
				t.Errorf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecord_Period(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"period field wins", Record{"period": "2024-03", "date": "2024-04-01"}, "2024-03"},
		{"date fallback", Record{"date": "2024-03-15"}, "2024-03-15"},
		{"month fallback", Record{"month": "2024-03"}, "2024-03"},
		{"no period", Record{"id": "A"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Period(); got != tt.want {
				t.Errorf("Period() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecord_MatchesPeriod(t *testing.T) {
	tests := []struct {
		name   string
		rec    Record
		period string
		want   bool
	}{
		{"exact day", Record{"date": "2024-03-15"}, "2024-03-15", true},
		{"day in month bucket", Record{"date": "2024-03-15"}, "2024-03", true},
		{"different month", Record{"date": "2024-04-01"}, "2024-03", false},
		{"no record period", Record{"id": "A"}, "2024-03", true},
		{"no bucket period", Record{"date": "2024-03-15"}, "", true},
		{"prefix but not boundary", Record{"period": "2024-031"}, "2024-03", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.MatchesPeriod(tt.period); got != tt.want {
				t.Errorf("MatchesPeriod(%q) = %v, want %v", tt.period, got, tt.want)
			}
		})
	}
}

func TestRecord_Merge(t *testing.T) {
	dst := Record{"id": "A", "status": "open", "assignee": "kim"}
	dst.Merge(Record{"id": "A", "status": "closed"})

	if dst["status"] != "closed" {
		t.Errorf("Expected status merged to 'closed', got %v", dst["status"])
	}
	if dst["assignee"] != "kim" {
		t.Error("Expected untouched field to survive merge")
	}
}

func TestRecord_MergeKeepsID(t *testing.T) {
	dst := Record{"id": "A", "status": "open"}
	dst.Merge(Record{"id": "", "status": "closed"})

	if dst.ID() != "A" {
		t.Errorf("Expected id preserved against empty overwrite, got %q", dst.ID())
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	orig := Record{"id": "A", "status": "open"}
	cp := orig.Clone()
	cp["status"] = "closed"

	if orig["status"] != "open" {
		t.Error("Expected clone mutation to not affect original")
	}
}

func TestCloneSlice(t *testing.T) {
	orig := []Record{{"id": "A"}, {"id": "B"}}
	cp := CloneSlice(orig)

	cp[0]["id"] = "Z"
	if orig[0].ID() != "A" {
		t.Error("Expected element clone, not shared map")
	}

	if CloneSlice(nil) != nil {
		t.Error("Expected nil in, nil out")
	}
}

func TestIndexOf(t *testing.T) {
	records := []Record{{"id": "A"}, {"id": "B"}}

	if got := IndexOf(records, "B"); got != 1 {
		t.Errorf("IndexOf(B) = %d, want 1", got)
	}
	if got := IndexOf(records, "C"); got != -1 {
		t.Errorf("IndexOf(C) = %d, want -1", got)
	}
}
