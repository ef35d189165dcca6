// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package api

// Error codes returned in the JSON error envelope. Clients switch on
// these rather than on the human-readable message.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnknownDomain    = "UNKNOWN_DOMAIN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeUpstreamFetch    = "UPSTREAM_FETCH_FAILED"
	ErrCodeUpstreamWrite    = "UPSTREAM_WRITE_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeWSUnavailable    = "WEBSOCKET_UNAVAILABLE"
)
