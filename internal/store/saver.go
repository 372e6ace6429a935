// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package store

import (
	"context"
	"time"

	"github.com/tomtom215/waypost/internal/logging"
	"github.com/tomtom215/waypost/internal/models"
)

// Snapshotter supplies the current pin snapshot to persist.
// Satisfied by *registry.Registry.
type Snapshotter interface {
	List() []models.VisitorPin
}

// Saver debounces registry mutations into periodic document saves.
//
// The registry signals mutations via Notify (non-blocking); the saver
// coalesces signals within the debounce window into one save, with a
// fallback interval tick that also retries failed saves. Persistence never
// blocks or fails the live mutation path.
type Saver struct {
	store    *Store
	source   Snapshotter
	debounce time.Duration
	interval time.Duration
	dirtyCh  chan struct{}
}

// SaverOptions configures a Saver.
type SaverOptions struct {
	// Debounce is the coalescing window after the first dirty signal.
	// Default: 2s.
	Debounce time.Duration

	// Interval is the fallback save period and retry cadence.
	// Default: 30s.
	Interval time.Duration
}

// NewSaver creates a Saver persisting source snapshots through store.
func NewSaver(store *Store, source Snapshotter, opts SaverOptions) *Saver {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Saver{
		store:    store,
		source:   source,
		debounce: opts.Debounce,
		interval: opts.Interval,
		dirtyCh:  make(chan struct{}, 1),
	}
}

// Notify marks the registry dirty. Never blocks: a signal already pending
// covers this mutation too.
func (s *Saver) Notify() {
	select {
	case s.dirtyCh <- struct{}{}:
	default:
	}
}

// Serve implements suture.Service. It runs the debounce loop until the
// context is canceled, then performs a final save so a graceful shutdown
// loses nothing.
func (s *Saver) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Timer starts drained; armed on the first dirty signal.
	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	dirty := false

	flush := func() {
		if err := s.store.Save(s.source.List()); err != nil {
			// Keep dirty so the next interval tick retries.
			logging.Err(err).Msg("pin store save failed, retrying on next tick")
			return
		}
		dirty = false
	}

	for {
		select {
		case <-ctx.Done():
			if err := s.store.Save(s.source.List()); err != nil {
				logging.Err(err).Msg("final pin store save failed on shutdown")
			} else {
				logging.Info().Msg("pin store saved on shutdown")
			}
			return ctx.Err()

		case <-s.dirtyCh:
			if !dirty {
				dirty = true
				timer.Reset(s.debounce)
			}
			// Already dirty: the armed window covers this signal. Not
			// extending the window keeps a steady stream of position
			// updates saving once per debounce period.

		case <-timer.C:
			if dirty {
				flush()
			}

		case <-ticker.C:
			if dirty {
				flush()
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Saver) String() string {
	return "store-saver"
}
