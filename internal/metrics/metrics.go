// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package metrics provides Prometheus instrumentation for Waypost:
// live connection counts, broadcast throughput, rejected input, and
// pin-store save outcomes. Collectors are registered via promauto and
// exposed on /metrics by the api package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients tracks the number of live WebSocket connections.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypost_connected_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	// KnownPins tracks the number of pins in the presence registry,
	// online and offline combined.
	KnownPins = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypost_known_pins",
			Help: "Current number of visitor pins in the registry",
		},
	)

	// EventsBroadcast counts events fanned out to clients, by event type.
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypost_events_broadcast_total",
			Help: "Total number of events broadcast to clients",
		},
		[]string{"type"},
	)

	// ClientsDropped counts forced disconnects, by reason.
	ClientsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypost_clients_dropped_total",
			Help: "Total number of clients forcibly disconnected",
		},
		[]string{"reason"}, // "queue_overflow", "superseded", "leave"
	)

	// InvalidEvents counts inbound events rejected with an error event,
	// by error code.
	InvalidEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypost_invalid_events_total",
			Help: "Total number of inbound events rejected as invalid",
		},
		[]string{"code"},
	)

	// StoreSaves counts durable pin-store save attempts, by outcome.
	StoreSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypost_store_saves_total",
			Help: "Total number of pin store save attempts",
		},
		[]string{"status"}, // "ok", "error"
	)
)
