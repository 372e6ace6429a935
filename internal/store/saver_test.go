// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/waypost/internal/models"
)

// stubSource is a Snapshotter with a swappable pin set.
type stubSource struct {
	mu   sync.Mutex
	pins []models.VisitorPin
}

func (s *stubSource) List() []models.VisitorPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.VisitorPin(nil), s.pins...)
}

func (s *stubSource) set(pins []models.VisitorPin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = pins
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSaver_DebouncedSaveAfterNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.json")
	st := New(Options{Path: path})
	source := &stubSource{pins: testPins()}
	saver := NewSaver(st, source, SaverOptions{
		Debounce: 20 * time.Millisecond,
		Interval: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- saver.Serve(ctx) }()

	// Burst of notifications coalesces into one save.
	for i := 0; i < 10; i++ {
		saver.Notify()
	}

	waitFor(t, time.Second, func() bool {
		return len(st.Load()) == 2
	})

	cancel()
	<-done
}

func TestSaver_FinalSaveOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.json")
	st := New(Options{Path: path})
	source := &stubSource{pins: testPins()}
	saver := NewSaver(st, source, SaverOptions{
		Debounce: time.Hour, // debounce never fires in this test
		Interval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- saver.Serve(ctx) }()

	saver.Notify()
	time.Sleep(10 * time.Millisecond)
	cancel()
	err := <-done
	if err != context.Canceled {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}

	if pins := st.Load(); len(pins) != 2 {
		t.Errorf("shutdown save missing: loaded %d pins, want 2", len(pins))
	}
}

func TestSaver_NotifyNeverBlocks(t *testing.T) {
	st := New(Options{Path: filepath.Join(t.TempDir(), "pins.json")})
	saver := NewSaver(st, &stubSource{}, SaverOptions{})

	// Saver not serving; repeated notifications must still return
	// immediately (mutation path never blocks on persistence).
	doneCh := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			saver.Notify()
		}
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}

func TestSaver_FailedSaveRetriedOnInterval(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "later")
	path := filepath.Join(missing, "pins.json")
	st := New(Options{Path: path})
	source := &stubSource{pins: testPins()}
	saver := NewSaver(st, source, SaverOptions{
		Debounce: 10 * time.Millisecond,
		Interval: 30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- saver.Serve(ctx) }()

	saver.Notify()
	// First save fails: parent directory does not exist yet.
	time.Sleep(20 * time.Millisecond)
	if len(st.Load()) != 0 {
		t.Fatal("save unexpectedly succeeded")
	}

	// Once the directory appears, the interval tick retries and succeeds.
	if err := os.MkdirAll(missing, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(st.Load()) == 2
	})

	cancel()
	<-done
}

func TestSaver_String(t *testing.T) {
	saver := NewSaver(New(Options{Path: "x"}), &stubSource{}, SaverOptions{})
	if saver.String() != "store-saver" {
		t.Errorf("String() = %q", saver.String())
	}
}
