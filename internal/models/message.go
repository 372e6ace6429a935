// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package models

import "time"

// EphemeralMessage is a speech-bubble chat message.
//
// Messages are fire-and-forget: the server stamps and broadcasts them once
// and never stores, retries, or replays them. A client that is offline at
// broadcast time simply never sees the message. ExpiresAt tells clients when
// to remove the bubble from the map.
type EphemeralMessage struct {
	FromID    string    `json:"fromId"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sentAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
