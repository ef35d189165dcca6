// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8643 {
		t.Errorf("Expected default port 8643, got %d", cfg.Server.Port)
	}
	if cfg.Cache.CurrentTTL != 5*time.Minute {
		t.Errorf("Expected default current TTL 5m, got %s", cfg.Cache.CurrentTTL)
	}
	if cfg.Broadcast.Transport != "gochannel" {
		t.Errorf("Expected default transport gochannel, got %s", cfg.Broadcast.Transport)
	}
	if len(cfg.Domains) != 3 {
		t.Errorf("Expected 3 default domains, got %d", len(cfg.Domains))
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opscache.yaml")
	yaml := `
server:
  port: 9999
cache:
  current_ttl: 30s
domains:
  - name: tickets
    collection: service_tickets
    granularity: month
    period_field: date
    max_entries: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected file port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Cache.CurrentTTL != 30*time.Second {
		t.Errorf("Expected file current TTL 30s, got %s", cfg.Cache.CurrentTTL)
	}
	if len(cfg.Domains) != 1 || cfg.Domains[0].MaxEntries != 8 {
		t.Errorf("Expected single overridden domain, got %+v", cfg.Domains)
	}
	// Untouched sections keep defaults.
	if cfg.Sweep.Interval != 10*time.Minute {
		t.Errorf("Expected default sweep interval, got %s", cfg.Sweep.Interval)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opscache.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("OPSCACHE_SERVER_PORT", "7777")
	t.Setenv("OPSCACHE_CACHE_HISTORICAL_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Expected env port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Cache.HistoricalTTL != 2*time.Hour {
		t.Errorf("Expected env historical TTL 2h, got %s", cfg.Cache.HistoricalTTL)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv("OPSCACHE_SERVER_CORS_ORIGINS", "https://ops.example.com, https://hq.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://hq.example.com" {
		t.Errorf("Expected split CORS origins, got %v", cfg.Server.CORSOrigins)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OPSCACHE_SERVER_PORT", "server.port"},
		{"OPSCACHE_CACHE_CURRENT_TTL", "cache.current_ttl"},
		{"OPSCACHE_BROADCAST_EMBEDDED_SERVER", "broadcast.embedded_server"},
		{"OPSCACHE_REMOTE_BASE_URL", "remote.base_url"},
		{"OPSCACHE_UNRELATED", ""},
	}

	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no domains", func(c *Config) { c.Domains = nil }},
		{"bad granularity", func(c *Config) { c.Domains[0].Granularity = "week" }},
		{"colon in domain name", func(c *Config) { c.Domains[0].Name = "tickets:open" }},
		{"duplicate domain", func(c *Config) { c.Domains[1].Name = c.Domains[0].Name }},
		{"bad transport", func(c *Config) { c.Broadcast.Transport = "carrier-pigeon" }},
		{"compact beyond max age", func(c *Config) { c.Cache.CompactAge = c.Cache.MaxAge + time.Hour }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestDomainCacheSettings(t *testing.T) {
	cfg := defaultConfig()
	base := cfg.Domains[0]

	current, historical, maxEntries := cfg.DomainCacheSettings(base)
	if current != cfg.Cache.CurrentTTL || historical != cfg.Cache.HistoricalTTL || maxEntries != cfg.Cache.MaxEntries {
		t.Error("Expected shared defaults when domain has no overrides")
	}

	base.CurrentTTL = time.Minute
	base.MaxEntries = 4
	current, historical, maxEntries = cfg.DomainCacheSettings(base)
	if current != time.Minute {
		t.Errorf("Expected overridden current TTL, got %s", current)
	}
	if historical != cfg.Cache.HistoricalTTL {
		t.Errorf("Expected inherited historical TTL, got %s", historical)
	}
	if maxEntries != 4 {
		t.Errorf("Expected overridden max entries, got %d", maxEntries)
	}
}
