// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

// Command server runs the opscache daemon: a read-through cache in front
// of the retail operations document store, with TTL-based expiry, durable
// snapshots, cross-instance invalidation and a WebSocket push channel for
// dashboard pages.
//
// Configuration is read from config.yaml (or the file named by
// OPSCACHE_CONFIG) and overridable through OPSCACHE_* environment
// variables, e.g.:
//
//	OPSCACHE_SERVER_PORT=8084 \
//	OPSCACHE_REMOTE_BASE_URL=https://store.internal:9443 \
//	OPSCACHE_BROADCAST_TRANSPORT=nats \
//	OPSCACHE_BROADCAST_URL=nats://broker:4222 \
//	./server
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mbeaufort/opscache/internal/api"
	"github.com/mbeaufort/opscache/internal/broadcast"
	"github.com/mbeaufort/opscache/internal/cache"
	"github.com/mbeaufort/opscache/internal/config"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/persist"
	"github.com/mbeaufort/opscache/internal/remote"
	"github.com/mbeaufort/opscache/internal/supervisor"
	"github.com/mbeaufort/opscache/internal/supervisor/services"
	"github.com/mbeaufort/opscache/internal/sweep"
	ws "github.com/mbeaufort/opscache/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("remote", cfg.Remote.BaseURL).
		Str("transport", cfg.Broadcast.Transport).
		Int("domains", len(cfg.Domains)).
		Msg("Starting opscache")

	// Snapshot store for warm starts across restarts.
	snapshots, err := persist.OpenBadger(persist.BadgerOptions{
		Path:           cfg.Persistence.Path,
		InMemory:       cfg.Persistence.InMemory,
		GCDiscardRatio: cfg.Persistence.GCDiscardRatio,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcast channel. The gochannel transport keeps events inside this
	// process; the NATS transport shares them with sibling instances.
	transport, embedded, err := buildTransport(cfg.Broadcast)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to set up broadcast transport")
	}
	if embedded != nil {
		defer func() {
			if err := embedded.Shutdown(context.Background()); err != nil {
				logging.Error().Err(err).Msg("Error stopping embedded broker")
			}
		}()
		logging.Info().Str("url", embedded.ClientURL()).Msg("Embedded NATS broker started")
	}

	bus, err := broadcast.NewBus(transport.Publisher, transport.Subscriber, cfg.Broadcast.Topic)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create broadcast bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing broadcast bus")
		}
	}()

	// Remote document store client, shared by all domain adapters.
	client := remote.NewClient(cfg.Remote)
	if err := client.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Document store unreachable at startup (will retry per request)")
	}

	registry, err := buildRegistry(cfg, client, snapshots, bus)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build cache registry")
	}
	defer registry.Close()

	// WebSocket hub sees every mutation event, local and remote alike.
	hub := ws.NewHub()
	unsubscribeHub := bus.Subscribe(hub.HandleMutation)
	defer unsubscribeHub()

	router := api.NewRouter(cfg.Server, registry, hub)
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if cfg.Sweep.Enabled {
		tree.AddMaintenanceService(sweep.New(registry, snapshots, cfg.Sweep.Interval, cfg.Cache.MaxAge))
	}
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Stopped")
}

// buildTransport constructs the broadcast transport named by the config,
// starting an embedded NATS broker first when requested.
func buildTransport(cfg config.BroadcastConfig) (*broadcast.Transport, *broadcast.EmbeddedServer, error) {
	switch cfg.Transport {
	case "gochannel":
		return broadcast.NewGoChannelTransport(logging.NewWatermillAdapter()), nil, nil

	case "nats":
		natsURL := cfg.URL
		var embedded *broadcast.EmbeddedServer
		if cfg.EmbeddedServer {
			host, port, err := splitBrokerURL(cfg.URL)
			if err != nil {
				return nil, nil, err
			}
			embedded, err = broadcast.NewEmbeddedServer(broadcast.EmbeddedServerConfig{
				Host:     host,
				Port:     port,
				StoreDir: cfg.StoreDir,
			})
			if err != nil {
				return nil, nil, err
			}
			natsURL = embedded.ClientURL()
		}

		transport, err := broadcast.NewNATSTransport(broadcast.NATSTransportConfig{
			URL:           natsURL,
			MaxReconnects: cfg.MaxReconnects,
			ReconnectWait: cfg.ReconnectWait,
		}, logging.NewWatermillAdapter())
		if err != nil {
			if embedded != nil {
				_ = embedded.Shutdown(context.Background())
			}
			return nil, nil, err
		}
		return transport, embedded, nil

	default:
		return nil, nil, fmt.Errorf("unknown broadcast transport %q", cfg.Transport)
	}
}

// splitBrokerURL extracts the listen host and port for the embedded broker
// from a nats:// URL, defaulting to 0.0.0.0:4222.
func splitBrokerURL(raw string) (string, int, error) {
	if raw == "" {
		return "0.0.0.0", 4222, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("parse broadcast URL %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" {
		host = "0.0.0.0"
	}
	port := 4222
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("parse broadcast URL port %q: %w", p, err)
		}
	}
	return host, port, nil
}

// buildRegistry wires one store, adapter and manager per configured domain.
func buildRegistry(cfg *config.Config, client *remote.Client, snapshots persist.Store, bus *broadcast.Bus) (*cache.Registry, error) {
	managers := make([]*cache.Manager, 0, len(cfg.Domains))
	for _, dc := range cfg.Domains {
		current, historical, maxEntries := cfg.DomainCacheSettings(dc)

		store := cache.NewStore(cache.StoreOptions{
			Domain:     dc.Name,
			Policy:     cache.TTLPolicy{Current: current, Historical: historical},
			MaxEntries: maxEntries,
			CompactAge: cfg.Cache.CompactAge,
			Snapshots:  snapshots,
		})

		adapter := remote.NewDomainAdapter(client, dc)
		mgr, err := cache.NewManager(cache.ManagerOptions{
			Domain:  dc.Name,
			Store:   store,
			Fetcher: adapter,
			Writer:  adapter,
			Channel: bus,
			Restore: true,
		})
		if err != nil {
			return nil, err
		}

		logging.Info().
			Str("domain", dc.Name).
			Str("collection", dc.Collection).
			Str("granularity", dc.Granularity).
			Msg("Cache domain registered")
		managers = append(managers, mgr)
	}

	return cache.NewRegistry(managers...)
}
