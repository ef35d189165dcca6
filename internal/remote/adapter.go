// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package remote

import (
	"context"

	"github.com/mbeaufort/opscache/internal/cache"
	"github.com/mbeaufort/opscache/internal/config"
	"github.com/mbeaufort/opscache/internal/record"
)

// DomainAdapter binds one configured domain to its remote collection. It
// translates cache keys into collection queries and implements both
// cache.Fetcher and cache.Writer for that domain's manager.
type DomainAdapter struct {
	client *Client
	cfg    config.DomainConfig
}

// NewDomainAdapter wires a domain onto the shared store client.
func NewDomainAdapter(client *Client, cfg config.DomainConfig) *DomainAdapter {
	return &DomainAdapter{client: client, cfg: cfg}
}

// Fetch queries the domain's collection for the key's period. Caller params
// pass through as additional filters; the period filter always wins.
func (a *DomainAdapter) Fetch(ctx context.Context, key string, params map[string]string) ([]record.Record, error) {
	filter := make(map[string]string, len(params)+1)
	for k, v := range params {
		filter[k] = v
	}
	if period := cache.KeyPeriod(key); period != "" {
		filter[a.cfg.PeriodField] = period
	}
	return a.client.QueryCollection(ctx, a.cfg.Collection, filter)
}

// Insert creates a document in the domain's collection.
func (a *DomainAdapter) Insert(ctx context.Context, rec record.Record) (string, error) {
	return a.client.InsertDocument(ctx, a.cfg.Collection, rec)
}

// Update applies a partial update to an existing document.
func (a *DomainAdapter) Update(ctx context.Context, id string, rec record.Record) error {
	return a.client.UpdateDocument(ctx, a.cfg.Collection, id, rec)
}

// Delete removes a document from the domain's collection.
func (a *DomainAdapter) Delete(ctx context.Context, id string) error {
	return a.client.DeleteDocument(ctx, a.cfg.Collection, id)
}
