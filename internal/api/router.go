// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package api exposes the cache over HTTP: read-through data lookups,
// mutations, invalidation, domain discovery, health probes, Prometheus
// metrics and the WebSocket push endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbeaufort/opscache/internal/cache"
	"github.com/mbeaufort/opscache/internal/config"
	"github.com/mbeaufort/opscache/internal/websocket"
)

// NewRouter assembles the chi router for the whole HTTP surface.
// hub may be nil, in which case /ws responds 503.
func NewRouter(cfg config.ServerConfig, registry *cache.Registry, hub *websocket.Hub) *chi.Mux {
	h := NewHandler(cfg, registry, hub)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(requestLogger())
	r.Use(requestMetrics())

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(cfg.RateLimitPerMinute))

		r.Get("/domains", h.ListDomains)

		r.Route("/data/{domain}/{period}", func(r chi.Router) {
			r.Get("/", h.GetData)
			r.Post("/mutations", h.Mutate)
			r.Delete("/", h.Invalidate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
