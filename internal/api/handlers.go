// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/cache"
	"github.com/mbeaufort/opscache/internal/config"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/record"
	"github.com/mbeaufort/opscache/internal/websocket"
)

// maxMutationBodySize bounds mutation request bodies.
const maxMutationBodySize = 1 << 20

// Handler carries the dependencies shared by all HTTP handlers.
type Handler struct {
	cfg      config.ServerConfig
	registry *cache.Registry
	hub      *websocket.Hub
	validate *validator.Validate
	started  time.Time
}

// NewHandler wires a Handler. hub may be nil for deployments without
// the WebSocket push channel.
func NewHandler(cfg config.ServerConfig, registry *cache.Registry, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		hub:      hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now(),
	}
}

type apiResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&apiResponse{
		Status:    "ok",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}

	w.Header().Set("Content-Type", "application/json")
	body, merr := json.Marshal(&apiResponse{
		Status:    "error",
		Error:     &apiError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
	if merr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, werr := w.Write(body); werr != nil {
		logging.Error().Err(werr).Msg("Failed to write error response")
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"state":  "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready reports readiness: the registry must hold at least one domain.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.registry == nil || len(h.registry.Domains()) == 0 {
		respondError(w, http.StatusServiceUnavailable, ErrCodeInternal, "no cache domains configured", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": "ready"})
}

// ListDomains lists the domains the cache serves.
func (h *Handler) ListDomains(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"domains": h.registry.Domains(),
	})
}

// GetData serves a read-through lookup for one domain period. Query
// parameters other than the path segments are forwarded to the remote
// fetch as filters when the period is not yet cached.
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	period := chi.URLParam(r, "period")

	mgr, ok := h.registry.Manager(domain)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeUnknownDomain, "unknown domain: "+domain, nil)
		return
	}

	params := make(map[string]string)
	for k, vals := range r.URL.Query() {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}

	key := domain + ":" + period
	recs, err := mgr.Get(r.Context(), key, params)
	if err != nil {
		var fetchErr *cache.FetchError
		if errors.As(err, &fetchErr) {
			respondError(w, http.StatusBadGateway, ErrCodeUpstreamFetch, "remote fetch failed", err)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "lookup failed", err)
		return
	}

	if recs == nil {
		recs = []record.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"domain":  domain,
		"period":  period,
		"records": recs,
	})
}

// mutationRequest is the body of POST .../mutations.
type mutationRequest struct {
	Action string        `json:"action" validate:"required,oneof=add update delete"`
	Record record.Record `json:"record" validate:"required"`
}

// Mutate applies a remote write and, on success, patches the cached
// period and broadcasts the change to sibling instances.
func (h *Handler) Mutate(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	period := chi.URLParam(r, "period")

	mgr, ok := h.registry.Manager(domain)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeUnknownDomain, "unknown domain: "+domain, nil)
		return
	}

	var req mutationRequest
	body := io.LimitReader(r.Body, maxMutationBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid mutation: "+err.Error(), nil)
		return
	}

	action := broadcast.Action(req.Action)
	if action != broadcast.ActionAdd && req.Record.ID() == "" {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "record id is required for "+req.Action, nil)
		return
	}

	key := domain + ":" + period
	if err := mgr.Mutate(r.Context(), key, action, req.Record); err != nil {
		var writeErr *cache.WriteError
		if errors.As(err, &writeErr) {
			respondError(w, http.StatusBadGateway, ErrCodeUpstreamWrite, "remote write failed", err)
			return
		}
		respondError(w, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"domain": domain,
		"period": period,
		"action": req.Action,
	})
}

// Invalidate drops a cached period so the next read refetches it.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	period := chi.URLParam(r, "period")

	mgr, ok := h.registry.Manager(domain)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeUnknownDomain, "unknown domain: "+domain, nil)
		return
	}

	mgr.Invalidate(domain + ":" + period)
	respondJSON(w, http.StatusOK, map[string]any{
		"domain":      domain,
		"period":      period,
		"invalidated": true,
	})
}

// WebSocket upgrades the connection and attaches it to the hub so the
// client receives mutation events as they are applied.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeWSUnavailable, "websocket service unavailable", nil)
		return
	}

	upgrader := gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkWebSocketOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	websocket.NewClient(h.hub, conn).Start()
}

// checkWebSocketOrigin applies the CORS origin list to WebSocket
// handshakes. Requests without an Origin header come from non-browser
// clients and are allowed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
	return false
}
