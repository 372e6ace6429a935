// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package hub

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/waypost/internal/models"
)

// Client -> server event types.
const (
	EventIdentify  = "identify"
	EventMove      = "move"
	EventRename    = "rename"
	EventMessage   = "message"
	EventHeartbeat = "heartbeat"
	EventLeave     = "leave"
)

// Server -> client event types. EventMessage flows both directions.
const (
	EventSnapshot = "snapshot"
	EventJoined   = "joined"
	EventMoved    = "moved"
	EventRenamed  = "renamed"
	EventLeft     = "left"
	EventError    = "error"
)

// Error codes carried by EventError payloads.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotIdentified     = "NOT_IDENTIFIED"
	CodeAlreadyIdentified = "ALREADY_IDENTIFIED"
	CodeBadPayload        = "BAD_PAYLOAD"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
)

// Event is an outbound wire message: a type tag plus a typed payload.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// inboundEvent defers payload decoding until the type is known.
type inboundEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IdentifyPayload binds a connection to a pin. An empty ID requests a
// server-assigned one (returned in the snapshot's own pin entry).
type IdentifyPayload struct {
	ID       string           `json:"id"`
	Nickname string           `json:"nickname"`
	Position *models.Position `json:"position"`
}

// MovePayload updates the sender's position.
type MovePayload struct {
	Position models.Position `json:"position"`
}

// RenamePayload updates the sender's nickname.
type RenamePayload struct {
	Nickname string `json:"nickname"`
}

// MessagePayload carries raw speech-bubble text from a client.
type MessagePayload struct {
	Text string `json:"text"`
}

// SnapshotPayload seeds a newly identified client with every known pin.
type SnapshotPayload struct {
	Pins []models.VisitorPin `json:"pins"`
}

// JoinedPayload announces a newly online pin to other clients.
type JoinedPayload struct {
	Pin models.VisitorPin `json:"pin"`
}

// MovedPayload is the position delta broadcast for one pin.
type MovedPayload struct {
	ID       string          `json:"id"`
	Position models.Position `json:"position"`
}

// RenamedPayload is the nickname delta broadcast for one pin.
type RenamedPayload struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// LeftPayload announces a pin going offline.
type LeftPayload struct {
	ID string `json:"id"`
}

// ErrorPayload is sent only to the connection that caused the error.
type ErrorPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
