// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Package config loads and validates opscache configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an optional
// YAML file, then OPSCACHE_* environment variables, each layer overriding the
// previous one.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the opscache daemon.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Server      ServerConfig      `koanf:"server"`
	Remote      RemoteConfig      `koanf:"remote"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Broadcast   BroadcastConfig   `koanf:"broadcast"`
	Cache       CacheConfig       `koanf:"cache"`
	Sweep       SweepConfig       `koanf:"sweep"`
	Domains     []DomainConfig    `koanf:"domains" validate:"min=1,dive"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig configures the HTTP surface exposed to dashboard pages.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RateLimitPerMinute bounds requests per client IP; 0 disables limiting.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=0"`
}

// RemoteConfig configures the hosted document store client, the only
// component allowed to talk to the authoritative store.
type RemoteConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// RateLimit is the client-side request budget in requests per second;
	// 0 disables the limiter. Burst defaults to RateLimit when 0.
	RateLimit float64 `koanf:"rate_limit" validate:"min=0"`
	Burst     int     `koanf:"burst" validate:"min=0"`

	// Circuit breaker thresholds for the remote store.
	BreakerFailures    uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerOpenFor     time.Duration `koanf:"breaker_open_for" validate:"min=1s"`
	BreakerHalfOpenMax uint32        `koanf:"breaker_half_open_max" validate:"min=1"`
}

// PersistenceConfig configures the BadgerDB snapshot store that lets a
// restarted instance serve from cache immediately.
type PersistenceConfig struct {
	// Path is the Badger directory. Ignored when InMemory is true.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// GCDiscardRatio is passed to Badger value-log GC during sweeps.
	GCDiscardRatio float64 `koanf:"gc_discard_ratio" validate:"gt=0,lte=1"`
}

// BroadcastConfig selects and configures the mutation-event transport.
type BroadcastConfig struct {
	// Transport is "gochannel" for in-process delivery or "nats" for
	// cross-instance delivery over JetStream.
	Transport string `koanf:"transport" validate:"oneof=gochannel nats"`
	Topic     string `koanf:"topic" validate:"required"`

	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// CacheConfig holds the per-domain defaults. A DomainConfig may override any
// non-zero field for its own manager.
type CacheConfig struct {
	// CurrentTTL applies to keys whose period contains "now"; such data
	// changes often, so it goes stale quickly.
	CurrentTTL time.Duration `koanf:"current_ttl" validate:"min=1s"`

	// HistoricalTTL applies to closed periods, which are effectively
	// immutable.
	HistoricalTTL time.Duration `koanf:"historical_ttl" validate:"min=1s"`

	// MaxEntries bounds the number of cached keys per domain.
	MaxEntries int `koanf:"max_entries" validate:"min=1"`

	// MaxAge is the absolute bound applied by the periodic sweep; entries
	// older than this are dropped regardless of TTL class.
	MaxAge time.Duration `koanf:"max_age" validate:"min=1m"`

	// CompactAge is the cutoff used by the forced compaction pass after a
	// failed snapshot write.
	CompactAge time.Duration `koanf:"compact_age" validate:"min=1m"`
}

// SweepConfig configures the periodic sweep service.
type SweepConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"min=10s"`
}

// DomainConfig declares one cacheable data domain (attendance, leave,
// tickets) and how its keys map onto the remote store.
type DomainConfig struct {
	// Name is the domain key prefix, e.g. "tickets" in "tickets:2024-03".
	// It must not contain the ':' key separator.
	Name string `koanf:"name" validate:"required,excludes=:"`

	// Collection is the remote document-store collection to query.
	Collection string `koanf:"collection" validate:"required"`

	// Granularity is the period unit encoded in keys: "day" or "month".
	Granularity string `koanf:"granularity" validate:"oneof=day month"`

	// PeriodField is the record field holding the period, e.g. "date".
	PeriodField string `koanf:"period_field" validate:"required"`

	// Optional per-domain overrides of the cache defaults.
	CurrentTTL    time.Duration `koanf:"current_ttl"`
	HistoricalTTL time.Duration `koanf:"historical_ttl"`
	MaxEntries    int           `koanf:"max_entries"`
}

// defaultConfig returns a Config with every default applied. The domain list
// defaults to the three retail back-office domains this daemon was built for;
// deployments override it from the config file.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8643,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 600,
		},
		Remote: RemoteConfig{
			BaseURL:            "http://127.0.0.1:9090",
			APIKey:             "",
			Timeout:            15 * time.Second,
			RateLimit:          20,
			Burst:              40,
			BreakerFailures:    5,
			BreakerOpenFor:     30 * time.Second,
			BreakerHalfOpenMax: 1,
		},
		Persistence: PersistenceConfig{
			Path:           "/data/opscache",
			InMemory:       false,
			GCDiscardRatio: 0.5,
		},
		Broadcast: BroadcastConfig{
			Transport:      "gochannel",
			Topic:          "opscache.mutations",
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			MaxReconnects:  60,
			ReconnectWait:  2 * time.Second,
		},
		Cache: CacheConfig{
			CurrentTTL:    5 * time.Minute,
			HistoricalTTL: 1 * time.Hour,
			MaxEntries:    64,
			MaxAge:        72 * time.Hour,
			CompactAge:    24 * time.Hour,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: 10 * time.Minute,
		},
		Domains: []DomainConfig{
			{Name: "attendance", Collection: "attendance", Granularity: "day", PeriodField: "date"},
			{Name: "leave", Collection: "leave_requests", Granularity: "month", PeriodField: "month"},
			{Name: "tickets", Collection: "service_tickets", Granularity: "month", PeriodField: "date"},
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Domains))
	for _, d := range c.Domains {
		if seen[d.Name] {
			return fmt.Errorf("invalid configuration: duplicate domain %q", d.Name)
		}
		seen[d.Name] = true
	}

	if c.Cache.CompactAge > c.Cache.MaxAge {
		return fmt.Errorf("invalid configuration: cache.compact_age %s exceeds cache.max_age %s",
			c.Cache.CompactAge, c.Cache.MaxAge)
	}

	return nil
}

// DomainCacheSettings resolves the effective cache settings for one domain,
// applying domain overrides on top of the shared defaults.
func (c *Config) DomainCacheSettings(d DomainConfig) (current, historical time.Duration, maxEntries int) {
	current = c.Cache.CurrentTTL
	if d.CurrentTTL > 0 {
		current = d.CurrentTTL
	}
	historical = c.Cache.HistoricalTTL
	if d.HistoricalTTL > 0 {
		historical = d.HistoricalTTL
	}
	maxEntries = c.Cache.MaxEntries
	if d.MaxEntries > 0 {
		maxEntries = d.MaxEntries
	}
	return current, historical, maxEntries
}
