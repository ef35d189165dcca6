// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package metrics exposes Prometheus instrumentation for the cache layer.
//
// Collectors are registered with promauto on the default registry and served
// from /metrics by the HTTP surface. Label cardinality is kept low on
// purpose: domains are a small fixed set, keys are never used as labels.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache store metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_hits_total",
			Help: "Cache reads answered from the store within TTL",
		},
		[]string{"domain"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_misses_total",
			Help: "Cache reads that required a remote fetch (absent or stale)",
		},
		[]string{"domain"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_evictions_total",
			Help: "Entries evicted from the store",
		},
		[]string{"domain", "reason"}, // "capacity", "sweep", "invalidate", "compaction"
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opscache_entries",
			Help: "Current number of cached keys per domain",
		},
		[]string{"domain"},
	)

	CachePatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_patches_total",
			Help: "Selective patches applied to cached collections",
		},
		[]string{"domain", "action"},
	)

	// Remote fetch boundary metrics
	RemoteFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opscache_remote_fetch_duration_seconds",
			Help:    "Duration of remote document store fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain", "status"}, // "ok", "error"
	)

	RemoteWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_remote_writes_total",
			Help: "Mutations issued against the remote document store",
		},
		[]string{"domain", "action", "status"},
	)

	FetchesCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_fetches_coalesced_total",
			Help: "Concurrent fetches that joined an in-flight request instead of issuing their own",
		},
		[]string{"domain"},
	)

	// Broadcast channel metrics
	BroadcastsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_broadcasts_published_total",
			Help: "Mutation events published to the broadcast channel",
		},
		[]string{"domain", "status"},
	)

	BroadcastsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_broadcasts_received_total",
			Help: "Mutation events received from the broadcast channel",
		},
		[]string{"domain", "origin"}, // origin: "self", "remote"
	)

	// Snapshot persistence metrics
	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscache_snapshot_writes_total",
			Help: "Snapshot writes to durable storage",
		},
		[]string{"domain", "status"}, // "ok", "retried", "failed"
	)

	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opscache_sweep_runs_total",
			Help: "Completed periodic sweep passes",
		},
	)

	// HTTP surface metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opscache_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opscache_websocket_connections",
			Help: "Currently connected WebSocket clients",
		},
	)
)

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).
		Observe(duration.Seconds())
}

// StatusLabel converts an error into the ok/error label used by several
// collectors.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
