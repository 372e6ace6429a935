// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package chat validates and stamps speech-bubble messages.
//
// The router is deliberately stateless: messages are broadcast once by the
// hub and never stored, retried, or acknowledged. Best-effort, real-time
// delivery is the contract, not an accident of implementation — a replayed
// speech bubble has no value.
package chat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tomtom215/waypost/internal/models"
	"github.com/tomtom215/waypost/internal/validation"
)

// Participants resolves sender ids against the presence registry.
// Satisfied by *registry.Registry.
type Participants interface {
	Get(id string) (models.VisitorPin, error)
}

// Router turns raw inbound text into stamped EphemeralMessages.
type Router struct {
	participants Participants
	ttl          time.Duration
	maxText      int
	clock        func() time.Time
}

// Options configures a Router.
type Options struct {
	// TTL is the bubble lifetime; expiresAt = sentAt + TTL. Default: 8s.
	TTL time.Duration

	// MaxTextLength caps message length in runes. Default: 280.
	MaxTextLength int

	// Clock supplies sentAt timestamps. Default: time.Now. The client
	// clock is never trusted for ordering.
	Clock func() time.Time
}

// NewRouter creates a Router resolving senders through participants.
func NewRouter(participants Participants, opts Options) *Router {
	if opts.TTL <= 0 {
		opts.TTL = 8 * time.Second
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = 280
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Router{
		participants: participants,
		ttl:          opts.TTL,
		maxText:      opts.MaxTextLength,
		clock:        opts.Clock,
	}
}

// Accept validates rawText from fromID and returns a stamped message ready
// for broadcast. Returns a validation error for empty or over-length text
// and for senders unknown to the registry.
func (r *Router) Accept(fromID, rawText string) (models.EphemeralMessage, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return models.EphemeralMessage{}, validation.NewFieldError(
			"Text", "required", "", rawText, "Text is required")
	}
	if n := utf8.RuneCountInString(text); n > r.maxText {
		return models.EphemeralMessage{}, validation.NewFieldError(
			"Text", "max", fmt.Sprintf("%d", r.maxText), text,
			fmt.Sprintf("Text must be at most %d characters", r.maxText))
	}

	if _, err := r.participants.Get(fromID); err != nil {
		return models.EphemeralMessage{}, validation.NewFieldError(
			"FromID", "known", "", fromID, "Sender is not a known visitor")
	}

	sentAt := r.clock()
	return models.EphemeralMessage{
		FromID:    fromID,
		Text:      text,
		SentAt:    sentAt,
		ExpiresAt: sentAt.Add(r.ttl),
	}, nil
}

// TTL returns the configured bubble lifetime.
func (r *Router) TTL() time.Duration {
	return r.ttl
}
