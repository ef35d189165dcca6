// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package record defines the document payload exchanged between the remote
// document store, the cache layer, and the HTTP surface.
//
// Records are schemaless field maps because the remote store is a hosted
// document database: attendance rows, leave requests, and service tickets all
// travel through the same cache machinery and only the pages that render them
// care about their exact shape. The cache itself relies on two conventions:
//
//   - every record carries a string "id" field that is unique within its
//     collection
//   - period-scoped records carry a "date" (YYYY-MM-DD) or "period" (YYYY-MM)
//     field from which their bucket can be derived
package record

import "strings"

// FieldID is the field every record must carry to be patchable.
const FieldID = "id"

// Period-bearing fields checked by Period, in priority order.
const (
	FieldPeriod = "period"
	FieldDate   = "date"
	FieldMonth  = "month"
)

// Record is one document from the remote store, kept as a flat field map.
type Record map[string]interface{}

// ID returns the record's "id" field, or "" when absent or not a string.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Period returns the period string encoded in the record, or "" when the
// record carries none. A full date like "2024-03-15" is returned as-is;
// callers compare by prefix when bucketing by month.
func (r Record) Period() string {
	for _, field := range []string{FieldPeriod, FieldDate, FieldMonth} {
		if v, ok := r[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// MatchesPeriod reports whether the record belongs to the given period
// bucket. A record dated "2024-03-15" matches both the "2024-03-15" day
// bucket and the "2024-03" month bucket. Records without a derivable period
// match any bucket; the cache prefers keeping such a record over silently
// dropping it.
func (r Record) MatchesPeriod(period string) bool {
	p := r.Period()
	if p == "" || period == "" {
		return true
	}
	if p == period {
		return true
	}
	return strings.HasPrefix(p, period+"-")
}

// Clone returns a shallow copy. Field values are shared; the map itself is
// independent, which is all the patch engine needs for merge-in-place.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every field of src into r, overwriting existing values.
// The id field is never overwritten with an empty value.
func (r Record) Merge(src Record) {
	for k, v := range src {
		if k == FieldID {
			if s, ok := v.(string); !ok || s == "" {
				continue
			}
		}
		r[k] = v
	}
}

// CloneSlice returns a new slice with shallow copies of every record, so a
// caller can hand cached collections to consumers without exposing the
// cache's backing storage to mutation.
func CloneSlice(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// IndexOf returns the position of the record with the given id, or -1.
func IndexOf(records []Record, id string) int {
	for i, r := range records {
		if r.ID() == id {
			return i
		}
	}
	return -1
}
