// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package cache implements the per-domain read-through cache manager: an
// in-memory store with TTL freshness, durable snapshots, selective patching
// of cached collections, cross-instance invalidation, and coalesced remote
// fetches.
//
// One Manager is constructed per data domain (attendance, leave, tickets)
// and handed to consumers explicitly; there are no package-level caches.
package cache

import (
	"strings"
	"time"
)

// Clock abstracts time.Now for tests.
type Clock func() time.Time

// Period layouts recognized in cache keys.
const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// TTLPolicy decides how long a cached key stays fresh. Keys whose period
// contains the current wall-clock time are volatile and get the short TTL;
// keys for closed periods are effectively immutable and get the long one.
//
// The zero value is not usable; both durations must be set.
type TTLPolicy struct {
	// Current is the TTL for keys covering the present period.
	Current time.Duration

	// Historical is the TTL for keys covering closed periods.
	Historical time.Duration
}

// KeyPeriod extracts the period component from a domain key of the form
// "{domain}:{period}". Returns "" when the key has no separator.
func KeyPeriod(key string) string {
	i := strings.Index(key, ":")
	if i < 0 {
		return ""
	}
	return key[i+1:]
}

// IsCurrent classifies a key against now. The classification is recomputed
// on every call because "current" drifts forward with the clock: a key that
// was current yesterday is historical today.
//
// Keys without a parseable period are classified current, trading extra
// refetches for never serving stale data from an unknown bucket. The same
// applies to future periods, which can still accumulate records.
func (p TTLPolicy) IsCurrent(key string, now time.Time) bool {
	period := KeyPeriod(key)
	if period == "" {
		return true
	}

	if t, err := time.ParseInLocation(dayLayout, period, now.Location()); err == nil {
		y1, m1, d1 := t.Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2 || t.After(now)
	}

	if t, err := time.ParseInLocation(monthLayout, period, now.Location()); err == nil {
		y1, m1, _ := t.Date()
		y2, m2, _ := now.Date()
		return y1 == y2 && m1 == m2 || t.After(now)
	}

	return true
}

// TTL returns the applicable TTL for a key at the given instant. Pure and
// cheap; called on every freshness check.
func (p TTLPolicy) TTL(key string, now time.Time) time.Duration {
	if p.IsCurrent(key, now) {
		return p.Current
	}
	return p.Historical
}
