// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package models defines the core data types shared across Waypost:
// visitor pins, map positions, and ephemeral messages.
package models

import "time"

// DefaultNickname is the placeholder shown for visitors that have not
// chosen a display name.
const DefaultNickname = "Visitor"

// Position is a point on the map. Altitude is optional and carried only
// when the client reports it.
type Position struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
	Alt float64 `json:"alt,omitempty"`
}

// VisitorPin is one visitor's identity and last known location.
//
// A pin outlives the connection that created it: on disconnect the pin stays
// in the registry (and in the durable store) with Online set to false, so the
// map keeps showing where visitors have been.
type VisitorPin struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	Position Position  `json:"position"`
	LastSeen time.Time `json:"lastSeen"`

	// Online is derived state: true iff a live connection is currently
	// bound to this pin. It is never treated as authoritative by the
	// persistence layer.
	Online bool `json:"online"`

	// Seq is the creation sequence number, used for stable insertion-order
	// listing. Internal bookkeeping, never serialized.
	Seq uint64 `json:"-"`
}

// PinUpdate carries the mutable fields of a pin for an upsert. Nil fields
// are left unchanged on the existing pin.
type PinUpdate struct {
	Nickname *string
	Position *Position
}
