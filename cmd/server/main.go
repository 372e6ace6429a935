// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package main is the entry point for the Waypost server.
//
// Waypost tracks visitor pins on a shared map and relays short-lived speech
// bubbles between everyone currently connected. Visitors join over a
// WebSocket, place or move their pin, and see everyone else's pins update
// live; pins persist across restarts in a single JSON document.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings from defaults, config file, and
//     environment variables (Koanf v2)
//  2. Store: JSON pin document with atomic replace-on-save
//  3. Registry: in-memory pin map, seeded from the store
//  4. Saver: debounced background persistence
//  5. Hub: WebSocket connection manager and event fan-out
//  6. HTTP server: REST endpoints, WebSocket upgrade, Prometheus metrics
//
// Components 4-6 run under a suture supervision tree so a crash in one
// layer restarts that layer without tearing down the rest.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, PINS_PATH, MESSAGE_TTL, ...)
//   - Config file (config.yaml or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, the hub closes every WebSocket client, and the
// saver writes a final snapshot of the pin document.
//
// # Example Usage
//
// Development, everything on defaults:
//
//	PINS_PATH=./pins.json LOG_FORMAT=console ./waypost
//
// Production behind a reverse proxy:
//
//	export HTTP_PORT=8474
//	export PINS_PATH=/data/pins.json
//	export CORS_ORIGINS=https://map.example.com
//	./waypost
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/waypost/internal/api"
	"github.com/tomtom215/waypost/internal/chat"
	"github.com/tomtom215/waypost/internal/config"
	"github.com/tomtom215/waypost/internal/hub"
	"github.com/tomtom215/waypost/internal/logging"
	"github.com/tomtom215/waypost/internal/registry"
	"github.com/tomtom215/waypost/internal/store"
	"github.com/tomtom215/waypost/internal/supervisor"
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
		Str("version", api.Version).
		Int("port", cfg.Server.Port).
		Str("pins_path", cfg.Store.Path).
		Msg("Starting Waypost")

	// Pin store and registry. The registry is seeded from whatever document
	// survives on disk; a missing or corrupt document is a cold start.
	pinStore := store.New(store.Options{
		Path:      cfg.Store.Path,
		Retention: cfg.Store.Retention,
	})

	var saver *store.Saver
	reg := registry.New(registry.Options{
		MaxNicknameLength: cfg.Presence.MaxNicknameLength,
		OnChange: func() {
			if saver != nil {
				saver.Notify()
			}
		},
	})

	seeded := pinStore.Load()
	reg.Seed(seeded)
	logging.Info().Int("pins", len(seeded)).Msg("Pin registry seeded from store")

	saver = store.NewSaver(pinStore, reg, store.SaverOptions{
		Debounce: cfg.Store.Debounce,
		Interval: cfg.Store.Interval,
	})

	chatRouter := chat.NewRouter(reg, chat.Options{
		TTL:           cfg.Chat.TTL,
		MaxTextLength: cfg.Chat.MaxTextLength,
	})

	wsHub := hub.New(reg, chatRouter)

	router := api.NewRouter(cfg, reg, wsHub)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The supervisor logs through our zerolog-backed slog adapter.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPresenceService(wsHub)
	tree.AddPresenceService(saver)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Waypost stopped gracefully")
}
