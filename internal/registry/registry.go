// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package registry implements the presence registry: the single in-process
// owner of all visitor pin state.
//
// No other component mutates pins directly. The hub drives mutations through
// Upsert/MarkOnline/MarkOffline, the store saver reads snapshots through
// List, and every successful mutation emits a non-blocking dirty signal so
// persistence stays off the hot path.
//
// The pin map is sharded by id so upserts to different pins never contend;
// upserts to the same pin serialize on its shard lock, and the later arrival
// wins (last-write-wins by arrival order, never by client clock).
package registry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tomtom215/waypost/internal/metrics"
	"github.com/tomtom215/waypost/internal/models"
	"github.com/tomtom215/waypost/internal/validation"
)

// ErrNotFound is returned when no pin exists for the requested id.
var ErrNotFound = errors.New("pin not found")

const shardCount = 16

// Options configures a Registry.
type Options struct {
	// MaxNicknameLength caps nickname length in runes. Default: 32.
	MaxNicknameLength int

	// Clock supplies the current time. Default: time.Now. Injectable for
	// deterministic tests.
	Clock func() time.Time

	// OnChange is invoked after every successful mutation, outside the
	// shard lock. It must not block; the store saver passes a non-blocking
	// dirty-channel send here.
	OnChange func()
}

type shard struct {
	mu   sync.RWMutex
	pins map[string]*models.VisitorPin
}

// Registry is the authoritative in-memory pin map.
type Registry struct {
	shards      [shardCount]shard
	seq         atomic.Uint64
	count       atomic.Int64
	maxNickname int
	clock       func() time.Time
	onChange    func()
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.MaxNicknameLength <= 0 {
		opts.MaxNicknameLength = 32
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}

	r := &Registry{
		maxNickname: opts.MaxNicknameLength,
		clock:       opts.Clock,
		onChange:    opts.OnChange,
	}
	for i := range r.shards {
		r.shards[i].pins = make(map[string]*models.VisitorPin)
	}
	return r
}

// shardFor maps a pin id to its shard via FNV-1a.
func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// Upsert merges the update into the pin for id, creating the pin on first
// sight. An empty id gets a server-assigned UUID. LastSeen is bumped on
// every call. Validation failures leave existing state completely untouched.
func (r *Registry) Upsert(id string, update models.PinUpdate) (models.VisitorPin, error) {
	// Validate before taking any lock; a rejected upsert must have no
	// partial effect.
	var nickname string
	if update.Nickname != nil {
		nickname = strings.TrimSpace(*update.Nickname)
		if n := utf8.RuneCountInString(nickname); n > r.maxNickname {
			return models.VisitorPin{}, validation.NewFieldError(
				"Nickname", "max", fmt.Sprintf("%d", r.maxNickname), nickname,
				fmt.Sprintf("Nickname must be at most %d characters", r.maxNickname),
			)
		}
	}
	if update.Position != nil {
		if verr := validation.ValidateStruct(update.Position); verr != nil {
			return models.VisitorPin{}, verr
		}
	}

	if id == "" {
		id = uuid.NewString()
	}

	s := r.shardFor(id)
	s.mu.Lock()
	pin, ok := s.pins[id]
	if !ok {
		pin = &models.VisitorPin{
			ID:       id,
			Nickname: models.DefaultNickname,
			Seq:      r.seq.Add(1),
		}
		s.pins[id] = pin
		r.count.Add(1)
		metrics.KnownPins.Inc()
	}
	if update.Nickname != nil && nickname != "" {
		pin.Nickname = nickname
	}
	if update.Position != nil {
		pin.Position = *update.Position
	}
	pin.LastSeen = r.clock()
	out := *pin
	s.mu.Unlock()

	r.onChange()
	return out, nil
}

// MarkOnline flags the pin as having a live connection.
func (r *Registry) MarkOnline(id string) error {
	return r.setOnline(id, true)
}

// MarkOffline clears the live-connection flag. The pin itself is kept so the
// map retains visitor history.
func (r *Registry) MarkOffline(id string) error {
	return r.setOnline(id, false)
}

func (r *Registry) setOnline(id string, online bool) error {
	s := r.shardFor(id)
	s.mu.Lock()
	pin, ok := s.pins[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mark online=%t %q: %w", online, id, ErrNotFound)
	}
	pin.Online = online
	pin.LastSeen = r.clock()
	s.mu.Unlock()

	r.onChange()
	return nil
}

// Get returns a copy of the pin for id, or ErrNotFound.
func (r *Registry) Get(id string) (models.VisitorPin, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	pin, ok := s.pins[id]
	if !ok {
		return models.VisitorPin{}, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return *pin, nil
}

// List returns a snapshot of every known pin, ordered by first-seen
// (creation sequence). The ordering is stable across calls.
func (r *Registry) List() []models.VisitorPin {
	out := make([]models.VisitorPin, 0, r.count.Load())
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, pin := range s.pins {
			out = append(out, *pin)
		}
		s.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Count returns the number of known pins.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Seed populates the registry from a loaded store snapshot. Called once at
// startup before any connection is accepted. Pins are ordered by their
// persisted lastSeen (ties broken by id) so listing order is deterministic
// across restarts, and every pin starts offline: liveness is derived from
// connections, never from the store.
func (r *Registry) Seed(pins []models.VisitorPin) {
	sort.Slice(pins, func(i, j int) bool {
		if pins[i].LastSeen.Equal(pins[j].LastSeen) {
			return pins[i].ID < pins[j].ID
		}
		return pins[i].LastSeen.Before(pins[j].LastSeen)
	})

	for _, pin := range pins {
		if pin.ID == "" {
			continue
		}
		s := r.shardFor(pin.ID)
		s.mu.Lock()
		if _, exists := s.pins[pin.ID]; !exists {
			seeded := pin
			seeded.Online = false
			seeded.Seq = r.seq.Add(1)
			if seeded.Nickname == "" {
				seeded.Nickname = models.DefaultNickname
			}
			s.pins[pin.ID] = &seeded
			r.count.Add(1)
			metrics.KnownPins.Inc()
		}
		s.mu.Unlock()
	}
}
