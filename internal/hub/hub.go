// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package hub owns the set of live WebSocket connections and bridges them to
// the presence registry.
//
// Each connection walks the session state machine
// CONNECTING -> IDENTIFIED -> ACTIVE -> DISCONNECTED. Inbound events are
// processed sequentially in the connection's read loop, so events from one
// visitor are always broadcast in the order they were accepted (FIFO per
// connection); no ordering is guaranteed across different visitors.
//
// Fan-out is best-effort: each client has a bounded outbound queue and a
// client whose queue overflows is forcibly disconnected rather than allowed
// to stall delivery to everyone else.
package hub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waypost/internal/chat"
	"github.com/tomtom215/waypost/internal/logging"
	"github.com/tomtom215/waypost/internal/metrics"
	"github.com/tomtom215/waypost/internal/models"
	"github.com/tomtom215/waypost/internal/registry"
	"github.com/tomtom215/waypost/internal/validation"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int

const (
	// StateConnecting means the transport handshake is done but no pin is
	// bound yet.
	StateConnecting SessionState = iota

	// StateIdentified means the identify event was accepted and the pin is
	// bound; transient, promoted to StateActive within the same call.
	StateIdentified

	// StateActive means the connection accepts updates and receives
	// broadcasts.
	StateActive

	// StateDisconnected means the session is finished; no further events
	// are delivered.
	StateDisconnected
)

// Drop reasons for forced disconnects, used as metric labels.
const (
	dropReasonOverflow   = "queue_overflow"
	dropReasonSuperseded = "superseded"
	dropReasonLeave      = "leave"
)

// Hub maintains the set of active clients, binds them to pins, and performs
// all event fan-out.
type Hub struct {
	registry *registry.Registry
	chat     *chat.Router

	mu      sync.Mutex
	clients map[*Client]bool
	byPin   map[string]*Client

	Register   chan *Client
	Unregister chan *Client

	// done is closed on shutdown so read loops stop offering unregisters
	// to a loop that is no longer receiving.
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Hub over the given registry and chat router.
func New(reg *registry.Registry, chatRouter *chat.Router) *Hub {
	return &Hub{
		registry:   reg,
		chat:       chatRouter,
		clients:    make(map[*Client]bool),
		byPin:      make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// RunWithContext processes client lifecycle events until the context is
// canceled, then gracefully closes all clients and returns ctx.Err().
// Designed for suture supervision.
//
// Shutdown is checked with priority over lifecycle events so a canceled hub
// never processes a stale registration first.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "presence-hub"
}

// addClient tracks a freshly upgraded connection in CONNECTING state.
func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

// removeClient finalizes a disconnect reported by the client's read loop.
// If the client is still the one bound to its pin, the pin goes offline and
// a left event is broadcast; a superseded (stale) connection changes
// nothing.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		// Already dropped (overflow, supersede, or explicit leave).
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.state = StateDisconnected
	pinID := c.pinID
	wasBound := pinID != "" && h.byPin[pinID] == c
	if wasBound {
		delete(h.byPin, pinID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Dec()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")

	if wasBound {
		h.pinWentOffline(pinID)
	}
}

// pinWentOffline marks the pin offline and announces it.
func (h *Hub) pinWentOffline(pinID string) {
	if err := h.registry.MarkOffline(pinID); err != nil {
		logging.Err(err).Str("pin_id", pinID).Msg("failed to mark pin offline")
	}
	h.broadcastToOthers(nil, Event{Type: EventLeft, Data: LeftPayload{ID: pinID}})
}

// shutdown closes all clients in deterministic order during hub teardown.
func (h *Hub) shutdown(ctx context.Context) {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := sortedClientsLocked(h.clients)
	for _, c := range clients {
		delete(h.clients, c)
		close(c.send)
		c.state = StateDisconnected
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
	h.byPin = make(map[string]*Client)
	h.mu.Unlock()

	metrics.ConnectedClients.Sub(float64(len(clients)))

	reason := "context_canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "presence-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("presence hub stopped")
}

// ClientCount returns the number of tracked connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleEvent dispatches one inbound event from c. Called sequentially from
// the client's read loop, which is what gives per-connection FIFO ordering.
func (h *Hub) handleEvent(c *Client, raw []byte) {
	var evt inboundEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		h.sendError(c, CodeBadPayload, "event is not valid JSON")
		return
	}

	switch evt.Type {
	case EventIdentify:
		h.handleIdentify(c, evt.Data)
	case EventMove:
		h.handleMove(c, evt.Data)
	case EventRename:
		h.handleRename(c, evt.Data)
	case EventMessage:
		h.handleMessage(c, evt.Data)
	case EventHeartbeat:
		h.handleHeartbeat(c)
	case EventLeave:
		h.handleLeave(c)
	default:
		h.sendError(c, CodeUnknownEvent, "unknown event type: "+evt.Type)
	}
}

// handleIdentify binds the connection to a pin, replies with a private
// snapshot, and announces the pin to everyone else. A reconnect with an
// already-bound pin id supersedes the previous connection: last connection
// wins, the old one is closed as stale.
func (h *Hub) handleIdentify(c *Client, data json.RawMessage) {
	h.mu.Lock()
	state := c.state
	h.mu.Unlock()
	if state != StateConnecting {
		h.sendError(c, CodeAlreadyIdentified, "connection is already identified")
		return
	}

	var payload IdentifyPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(c, CodeBadPayload, "identify payload is malformed")
		return
	}

	update := models.PinUpdate{Position: payload.Position}
	if payload.Nickname != "" {
		update.Nickname = &payload.Nickname
	}

	pin, err := h.registry.Upsert(payload.ID, update)
	if err != nil {
		h.rejectInvalid(c, err)
		return
	}
	if err := h.registry.MarkOnline(pin.ID); err != nil {
		logging.Err(err).Str("pin_id", pin.ID).Msg("failed to mark pin online")
	}
	pin, err = h.registry.Get(pin.ID)
	if err != nil {
		logging.Err(err).Str("pin_id", pin.ID).Msg("pin vanished during identify")
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		// The hub dropped this connection (or shut down) while the
		// registry calls above were in flight. Its send channel is
		// already closed; binding the pin now would resurrect a dead
		// session.
		h.mu.Unlock()
		return
	}
	if prev, ok := h.byPin[pin.ID]; ok && prev != c {
		// Last connection wins; the stale one gets no left broadcast
		// because the pin never actually went offline.
		h.dropLocked(prev, dropReasonSuperseded)
	}
	c.pinID = pin.ID
	c.state = StateIdentified
	h.byPin[pin.ID] = c
	c.state = StateActive
	h.mu.Unlock()

	logging.Info().
		Str("pin_id", pin.ID).
		Str("nickname", pin.Nickname).
		Msg("visitor identified")

	h.sendTo(c, Event{Type: EventSnapshot, Data: SnapshotPayload{Pins: h.registry.List()}})
	h.broadcastToOthers(c, Event{Type: EventJoined, Data: JoinedPayload{Pin: pin}})
}

func (h *Hub) handleMove(c *Client, data json.RawMessage) {
	pinID, ok := h.requireActive(c)
	if !ok {
		return
	}

	var payload MovePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(c, CodeBadPayload, "move payload is malformed")
		return
	}

	pin, err := h.registry.Upsert(pinID, models.PinUpdate{Position: &payload.Position})
	if err != nil {
		h.rejectInvalid(c, err)
		return
	}

	h.broadcastToOthers(c, Event{Type: EventMoved, Data: MovedPayload{
		ID:       pin.ID,
		Position: pin.Position,
	}})
}

func (h *Hub) handleRename(c *Client, data json.RawMessage) {
	pinID, ok := h.requireActive(c)
	if !ok {
		return
	}

	var payload RenamePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(c, CodeBadPayload, "rename payload is malformed")
		return
	}
	if payload.Nickname == "" {
		h.sendError(c, CodeValidationError, "Nickname is required")
		return
	}

	pin, err := h.registry.Upsert(pinID, models.PinUpdate{Nickname: &payload.Nickname})
	if err != nil {
		h.rejectInvalid(c, err)
		return
	}

	h.broadcastToOthers(c, Event{Type: EventRenamed, Data: RenamedPayload{
		ID:       pin.ID,
		Nickname: pin.Nickname,
	}})
}

// handleMessage broadcasts a speech bubble to every other active
// connection. The sender gets no echo: its client already rendered the
// bubble locally when it was sent.
func (h *Hub) handleMessage(c *Client, data json.RawMessage) {
	pinID, ok := h.requireActive(c)
	if !ok {
		return
	}

	var payload MessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(c, CodeBadPayload, "message payload is malformed")
		return
	}

	msg, err := h.chat.Accept(pinID, payload.Text)
	if err != nil {
		h.rejectInvalid(c, err)
		return
	}

	h.broadcastToOthers(c, Event{Type: EventMessage, Data: msg})
}

// handleHeartbeat refreshes the pin's lastSeen. Transport-level liveness is
// already extended by the read loop for any inbound frame.
func (h *Hub) handleHeartbeat(c *Client) {
	pinID, ok := h.requireActive(c)
	if !ok {
		return
	}
	if _, err := h.registry.Upsert(pinID, models.PinUpdate{}); err != nil {
		logging.Err(err).Str("pin_id", pinID).Msg("heartbeat touch failed")
	}
}

// handleLeave is a graceful disconnect: same observable effect as a
// transport close, but initiated by the client.
func (h *Hub) handleLeave(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	pinID := c.pinID
	wasBound := pinID != "" && h.byPin[pinID] == c
	h.dropLocked(c, dropReasonLeave)
	h.mu.Unlock()

	if wasBound {
		h.pinWentOffline(pinID)
	}
}

// requireActive returns the bound pin id, or sends an error event if the
// connection has not identified yet.
func (h *Hub) requireActive(c *Client) (string, bool) {
	h.mu.Lock()
	state, pinID := c.state, c.pinID
	h.mu.Unlock()

	if state != StateActive || pinID == "" {
		h.sendError(c, CodeNotIdentified, "identify before sending events")
		return "", false
	}
	return pinID, true
}

// rejectInvalid reports a validation failure to the offending connection
// only. The connection stays active: transient client bugs are tolerated.
func (h *Hub) rejectInvalid(c *Client, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		h.sendError(c, CodeValidationError, verr.Error())
		return
	}
	h.sendError(c, CodeValidationError, err.Error())
}

// sendError delivers an error event to a single connection.
func (h *Hub) sendError(c *Client, code, detail string) {
	metrics.InvalidEvents.WithLabelValues(code).Inc()
	h.sendTo(c, Event{Type: EventError, Data: ErrorPayload{Code: code, Detail: detail}})
}

// sendTo enqueues an event for one client. A full queue means the client
// cannot keep up and is dropped rather than allowed to block the caller.
func (h *Hub) sendTo(c *Client, evt Event) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	var overflowed bool
	select {
	case c.send <- evt:
	default:
		overflowed = true
	}
	var offlinePin string
	if overflowed {
		if c.pinID != "" && h.byPin[c.pinID] == c {
			offlinePin = c.pinID
		}
		h.dropLocked(c, dropReasonOverflow)
	}
	h.mu.Unlock()

	if offlinePin != "" {
		h.pinWentOffline(offlinePin)
	}
}

// broadcastToOthers fans an event out to every ACTIVE connection except the
// sender. Clients are visited in id order so delivery order is
// deterministic for a single event. Sends are non-blocking; clients whose
// queues overflow are dropped and announced as left after the fan-out.
func (h *Hub) broadcastToOthers(sender *Client, evt Event) {
	h.mu.Lock()
	clients := sortedClientsLocked(h.clients)

	var offlinePins []string
	delivered := 0
	for _, c := range clients {
		if c == sender || c.state != StateActive {
			continue
		}
		select {
		case c.send <- evt:
			delivered++
		default:
			if c.pinID != "" && h.byPin[c.pinID] == c {
				offlinePins = append(offlinePins, c.pinID)
			}
			h.dropLocked(c, dropReasonOverflow)
		}
	}
	h.mu.Unlock()

	metrics.EventsBroadcast.WithLabelValues(evt.Type).Inc()
	logging.Debug().
		Str("event", evt.Type).
		Int("recipients", delivered).
		Msg("event broadcast")

	for _, pinID := range offlinePins {
		h.pinWentOffline(pinID)
	}
}

// dropLocked forcibly disconnects a client. Must be called with h.mu held.
// The caller decides whether the pin goes offline; a supersede keeps the pin
// online under its new connection.
func (h *Hub) dropLocked(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.state = StateDisconnected
	if c.pinID != "" && h.byPin[c.pinID] == c {
		delete(h.byPin, c.pinID)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}

	metrics.ConnectedClients.Dec()
	metrics.ClientsDropped.WithLabelValues(reason).Inc()
	logging.Info().
		Str("reason", reason).
		Str("pin_id", c.pinID).
		Msg("client dropped")
}

// sortedClientsLocked snapshots the client set ordered by client id, so
// iteration order never depends on map randomization. Must be called with
// h.mu held.
func sortedClientsLocked(m map[*Client]bool) []*Client {
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// livenessOrDefault applies the default liveness timeout.
func livenessOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 75 * time.Second
	}
	return d
}
