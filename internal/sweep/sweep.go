// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package sweep runs the periodic cache maintenance pass: age-based
// eviction across every domain plus value-log garbage collection on the
// snapshot store.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbeaufort/opscache/internal/cache"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/metrics"
	"github.com/mbeaufort/opscache/internal/persist"
)

// Service sweeps every cache manager on a fixed interval. It implements
// suture.Service and runs until its context is canceled.
type Service struct {
	registry  *cache.Registry
	snapshots persist.Store
	interval  time.Duration
	maxAge    time.Duration
	logger    zerolog.Logger
}

// New builds the sweep service. snapshots may be nil when persistence is
// disabled; the GC pass is then skipped.
func New(registry *cache.Registry, snapshots persist.Store, interval, maxAge time.Duration) *Service {
	return &Service{
		registry:  registry,
		snapshots: snapshots,
		interval:  interval,
		maxAge:    maxAge,
		logger:    logging.With("sweep").Logger(),
	}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("max_age", s.maxAge).
		Msg("sweep service started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce()
		}
	}
}

// RunOnce performs a single maintenance pass and returns the number of
// evicted keys. Exposed for the admin API and tests.
func (s *Service) RunOnce() int {
	return s.runOnce()
}

func (s *Service) runOnce() int {
	start := time.Now()
	evicted := s.registry.SweepAll(s.maxAge)
	metrics.SweepRuns.Inc()

	if s.snapshots != nil {
		if err := s.snapshots.RunGC(); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot store GC failed")
		}
	}

	s.logger.Debug().
		Int("evicted", evicted).
		Dur("took", time.Since(start)).
		Msg("sweep pass complete")
	return evicted
}

// String implements fmt.Stringer for supervisor logs.
func (s *Service) String() string { return "cache-sweep" }
