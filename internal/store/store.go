// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package store persists the visitor pin registry as a single JSON document.
//
// The store is a recovery mechanism, not a source of truth: the registry
// owns live state, and a lost write costs at most the last debounce window.
// Writes always go to a temporary file in the same directory followed by an
// atomic rename, so a crash mid-write can never corrupt the live document.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waypost/internal/logging"
	"github.com/tomtom215/waypost/internal/metrics"
	"github.com/tomtom215/waypost/internal/models"
)

// pinRecord is the persisted shape of one pin. Online is deliberately
// absent: liveness is derived from connections and never survives a restart.
type pinRecord struct {
	ID       string          `json:"id"`
	Nickname string          `json:"nickname"`
	Position models.Position `json:"position"`
	LastSeen time.Time       `json:"lastSeen"`
}

// Store reads and writes the durable pin document.
type Store struct {
	path string

	// retention prunes pins whose lastSeen is older than this at load time.
	// Zero keeps pins forever.
	retention time.Duration

	clock func() time.Time
}

// Options configures a Store.
type Options struct {
	Path      string
	Retention time.Duration
	Clock     func() time.Time
}

// New creates a Store for the given document path.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{
		path:      opts.Path,
		retention: opts.Retention,
		clock:     opts.Clock,
	}
}

// Load reads the pin document. A missing or unparsable document is a cold
// start, not a failure: Load logs the condition and returns an empty slice.
func (s *Store) Load() []models.VisitorPin {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info().Str("path", s.path).Msg("no pin store found, starting cold")
		} else {
			logging.Err(err).Str("path", s.path).Msg("pin store unreadable, starting cold")
		}
		return nil
	}

	var doc map[string]pinRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Err(err).Str("path", s.path).Msg("pin store unparsable, starting cold")
		return nil
	}

	var cutoff time.Time
	if s.retention > 0 {
		cutoff = s.clock().Add(-s.retention)
	}

	pins := make([]models.VisitorPin, 0, len(doc))
	pruned := 0
	for id, rec := range doc {
		if rec.ID == "" {
			rec.ID = id
		}
		if s.retention > 0 && rec.LastSeen.Before(cutoff) {
			pruned++
			continue
		}
		pins = append(pins, models.VisitorPin{
			ID:       rec.ID,
			Nickname: rec.Nickname,
			Position: rec.Position,
			LastSeen: rec.LastSeen,
		})
	}

	logging.Info().
		Str("path", s.path).
		Int("pins", len(pins)).
		Int("pruned", pruned).
		Msg("pin store loaded")
	return pins
}

// Save writes the full snapshot to the document via temp file and atomic
// rename. It never writes in place over the live file.
func (s *Store) Save(pins []models.VisitorPin) error {
	doc := make(map[string]pinRecord, len(pins))
	for _, pin := range pins {
		doc[pin.ID] = pinRecord{
			ID:       pin.ID,
			Nickname: pin.Nickname,
			Position: pin.Position,
			LastSeen: pin.LastSeen,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		metrics.StoreSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal pin document: %w", err)
	}

	// Temp file must live in the target directory: rename is only atomic
	// within a filesystem.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pins-*.tmp")
	if err != nil {
		metrics.StoreSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("create temp pin document: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		metrics.StoreSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("write temp pin document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		metrics.StoreSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("sync temp pin document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		metrics.StoreSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("close temp pin document: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		metrics.StoreSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("replace pin document: %w", err)
	}

	metrics.StoreSaves.WithLabelValues("ok").Inc()
	return nil
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}
