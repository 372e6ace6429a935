// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/waypost/internal/config"
	"github.com/tomtom215/waypost/internal/hub"
	"github.com/tomtom215/waypost/internal/logging"
	"github.com/tomtom215/waypost/internal/models"
	"github.com/tomtom215/waypost/internal/registry"
)

// Handler holds the dependencies for all HTTP endpoints.
type Handler struct {
	config    *config.Config
	registry  *registry.Registry
	wsHub     *hub.Hub
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, reg *registry.Registry, wsHub *hub.Hub) *Handler {
	return &Handler{
		config:    cfg,
		registry:  reg,
		wsHub:     wsHub,
		startTime: time.Now(),
	}
}

// healthStatus is the payload for the readiness and liveness endpoints.
type healthStatus struct {
	Status           string  `json:"status"`
	Version          string  `json:"version"`
	KnownPins        int     `json:"knownPins"`
	ConnectedClients int     `json:"connectedClients"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}

// HealthLive reports process liveness. Always healthy if we can respond.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, healthStatus{
		Status:        "healthy",
		Version:       Version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady reports readiness to accept visitor traffic: the hub must be
// wired or WebSocket upgrades would fail.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"presence hub not available", nil)
		return
	}

	respondSuccess(w, http.StatusOK, healthStatus{
		Status:           "healthy",
		Version:          Version,
		KnownPins:        h.registry.Count(),
		ConnectedClients: h.wsHub.ClientCount(),
		UptimeSeconds:    time.Since(h.startTime).Seconds(),
	})
}

// pinsResponse wraps the pin list for REST consumers.
type pinsResponse struct {
	Pins  []models.VisitorPin `json:"pins"`
	Count int                 `json:"count"`
}

// Pins returns every known pin in insertion order. Read-only REST mirror of
// the WebSocket snapshot, useful for static map rendering and debugging.
func (h *Handler) Pins(w http.ResponseWriter, r *http.Request) {
	pins := h.registry.List()
	respondSuccess(w, http.StatusOK, pinsResponse{Pins: pins, Count: len(pins)})
}

// WebSocket upgrades the connection and hands it to the presence hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("websocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"presence service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(h.wsHub, conn, h.config.Presence.LivenessTimeout)
	h.wsHub.Register <- client
	client.Start()
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against the configured
// CORS origins. Requests without an Origin header (non-browser clients) are
// allowed; browsers always send one.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}
