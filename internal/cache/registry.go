// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package cache

import (
	"fmt"
	"sort"
	"time"
)

// Registry holds one Manager per configured domain. It is built once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	managers map[string]*Manager
}

// NewRegistry builds a registry; duplicate domains are rejected.
func NewRegistry(managers ...*Manager) (*Registry, error) {
	r := &Registry{managers: make(map[string]*Manager, len(managers))}
	for _, m := range managers {
		if _, dup := r.managers[m.Domain()]; dup {
			return nil, fmt.Errorf("duplicate cache manager for domain %q", m.Domain())
		}
		r.managers[m.Domain()] = m
	}
	return r, nil
}

// Manager returns the manager for domain, or false when the domain is not
// configured.
func (r *Registry) Manager(domain string) (*Manager, bool) {
	m, ok := r.managers[domain]
	return m, ok
}

// Domains lists the configured domains in sorted order.
func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.managers))
	for d := range r.managers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// SweepAll runs one sweep pass over every domain and returns the total
// number of evicted keys.
func (r *Registry) SweepAll(maxAge time.Duration) int {
	total := 0
	for _, m := range r.managers {
		total += m.Sweep(maxAge)
	}
	return total
}

// Close detaches every manager from the broadcast channel.
func (r *Registry) Close() {
	for _, m := range r.managers {
		m.Close()
	}
}
