// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package services

import (
	"context"

	"github.com/mbeaufort/opscache/internal/websocket"
)

// WebSocketHubService runs the push hub under supervision. A restarted
// hub drops all page connections; pages reconnect and resubscribe.
type WebSocketHubService struct {
	hub *websocket.Hub
}

// NewWebSocketHubService wraps a hub for supervision.
func NewWebSocketHubService(hub *websocket.Hub) *WebSocketHubService {
	return &WebSocketHubService{hub: hub}
}

// Serve implements suture.Service.
func (w *WebSocketHubService) Serve(ctx context.Context) error {
	return w.hub.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (w *WebSocketHubService) String() string { return "websocket-hub" }
