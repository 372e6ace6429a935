// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package hub

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/waypost/internal/logging"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second

	// maxInboundBytes bounds one inbound frame. Generous for the largest
	// legitimate event (identify with nickname and position).
	maxInboundBytes = 4096

	// sendQueueSize is the per-client outbound buffer. A client that lets
	// this many events pile up is dropped as unresponsive.
	sendQueueSize = 256
)

// clientSeq assigns monotonically increasing client ids for deterministic
// iteration order during fan-out.
var clientSeq atomic.Uint64

// Client is one WebSocket connection tracked by the Hub.
//
// state and pinID are guarded by the hub's mutex, not by the client: all
// transitions happen inside hub methods.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Event

	liveness time.Duration

	state SessionState
	pinID string
}

// NewClient wraps an upgraded connection. liveness is the read deadline: a
// connection that produces no frame (including pongs) for that long is
// considered dead.
func NewClient(h *Hub, conn *websocket.Conn, liveness time.Duration) *Client {
	return &Client{
		id:       clientSeq.Add(1),
		hub:      h,
		conn:     conn,
		send:     make(chan Event, sendQueueSize),
		liveness: livenessOrDefault(liveness),
		state:    StateConnecting,
	}
}

// Start launches the read and write pumps. The caller must have registered
// the client with the hub first.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pulls inbound frames and hands them to the hub one at a time.
// Sequential dispatch here is what guarantees per-connection event ordering.
// Any transport error ends the session.
func (c *Client) readPump() {
	defer func() {
		c.unregister()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.liveness))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.liveness))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.liveness))

		c.hub.handleEvent(c, raw)
	}
}

// unregister reports the connection's end to the hub. After shutdown the
// hub no longer receives lifecycle events, so the offer gives up once the
// hub's done channel closes instead of blocking the read loop's goroutine
// forever.
func (c *Client) unregister() {
	select {
	case c.hub.Unregister <- c:
	case <-c.hub.done:
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. Exits when the hub closes the send channel or
// a write fails.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(c.liveness * 9 / 10)
	defer func() {
		pingTicker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			payload, err := json.Marshal(evt)
			if err != nil {
				logging.Err(err).Str("event", evt.Type).Msg("failed to encode event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
