// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/observability"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/store"
)

func newTestGuard(t *testing.T) (*Guard, *store.BadgerStore) {
	t.Helper()
	cells, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = cells.Close() })

	locks := NewKeyLockTable(TableConfig{SweepInterval: -1})
	t.Cleanup(locks.Close)

	g, err := New(cells, locks, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g, cells
}

func TestGuard_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("commits when the original matches", func(t *testing.T) {
		g, cells := newTestGuard(t)
		key := testKey(t, "shot1")
		if err := cells.Write(ctx, key, cell.ValueOf("Original Title")); err != nil {
			t.Fatalf("Seed write failed: %v", err)
		}

		outcome := g.Apply(ctx, cell.UpdateIntent{
			Key:           key,
			OriginalValue: cell.ValueOf("Original Title"),
			NewValue:      cell.ValueOf("A Title"),
		})
		if !outcome.IsCommitted() {
			t.Fatalf("Expected Committed, got %+v", outcome)
		}

		stored, err := cells.Read(ctx, key)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !stored.Equal(cell.ValueOf("A Title")) {
			t.Errorf("Stored = %s, want %q", stored, "A Title")
		}
	})

	t.Run("commits an edit of an absent cell", func(t *testing.T) {
		g, _ := newTestGuard(t)
		outcome := g.Apply(ctx, cell.UpdateIntent{
			Key:      testKey(t, "fresh"),
			NewValue: cell.ValueOf("first value"),
		})
		if !outcome.IsCommitted() {
			t.Fatalf("Expected Committed for absent cell, got %+v", outcome)
		}
	})

	t.Run("conflicts when the original is stale", func(t *testing.T) {
		g, cells := newTestGuard(t)
		key := testKey(t, "shot1")
		if err := cells.Write(ctx, key, cell.ValueOf("A Title")); err != nil {
			t.Fatalf("Seed write failed: %v", err)
		}

		outcome := g.Apply(ctx, cell.UpdateIntent{
			Key:           key,
			OriginalValue: cell.ValueOf("Original Title"),
			NewValue:      cell.ValueOf("B Title"),
		})
		if !outcome.IsConflicted() {
			t.Fatalf("Expected Conflicted, got %+v", outcome)
		}
		if !outcome.Conflict.ServerCurrentValue.Equal(cell.ValueOf("A Title")) {
			t.Errorf("ServerCurrentValue = %s, want %q",
				outcome.Conflict.ServerCurrentValue, "A Title")
		}

		// The store must not have been mutated.
		stored, err := cells.Read(ctx, key)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !stored.Equal(cell.ValueOf("A Title")) {
			t.Errorf("Conflict mutated the store: %s", stored)
		}
	})

	t.Run("force bypasses the compare", func(t *testing.T) {
		g, cells := newTestGuard(t)
		key := testKey(t, "shot1")
		if err := cells.Write(ctx, key, cell.ValueOf("A Title")); err != nil {
			t.Fatalf("Seed write failed: %v", err)
		}

		outcome := g.Apply(ctx, cell.UpdateIntent{
			Key:           key,
			OriginalValue: cell.ValueOf("Original Title"), // stale
			NewValue:      cell.ValueOf("B Title"),
			Force:         true,
		})
		if !outcome.IsCommitted() {
			t.Fatalf("Expected Committed with force, got %+v", outcome)
		}

		stored, err := cells.Read(ctx, key)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !stored.Equal(cell.ValueOf("B Title")) {
			t.Errorf("Stored = %s, want %q", stored, "B Title")
		}
	})

	t.Run("rejects a malformed key before locking", func(t *testing.T) {
		g, _ := newTestGuard(t)
		outcome := g.Apply(ctx, cell.UpdateIntent{
			Key:      cell.Key{Collection: "Shots"},
			NewValue: cell.ValueOf("x"),
		})
		if !outcome.IsFailed() {
			t.Fatalf("Expected Failed, got %+v", outcome)
		}
		if !errors.Is(outcome.Err, cell.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey, got %v", outcome.Err)
		}
	})

	t.Run("cancelled context while waiting yields ErrCancelled", func(t *testing.T) {
		g, _ := newTestGuard(t)
		key := testKey(t, "shot1")

		if err := g.locks.Acquire(ctx, key); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		defer g.locks.Release(key)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		outcome := g.Apply(cancelled, cell.UpdateIntent{
			Key:      key,
			NewValue: cell.ValueOf("x"),
		})
		if !outcome.IsFailed() {
			t.Fatalf("Expected Failed, got %+v", outcome)
		}
		if !errors.Is(outcome.Err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", outcome.Err)
		}
	})
}

// TestGuard_MutualExclusion drives many concurrent non-forced intents that
// all believe the same original value. Exactly one may commit; every other
// one must observe a conflict.
func TestGuard_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	g, cells := newTestGuard(t)
	key := testKey(t, "shot1")
	if err := cells.Write(ctx, key, cell.ValueOf("Original Title")); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	const contenders = 32
	outcomes := make([]cell.UpdateOutcome, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = g.Apply(ctx, cell.UpdateIntent{
				Key:           key,
				OriginalValue: cell.ValueOf("Original Title"),
				NewValue:      cell.ValueOf(i),
			})
		}(i)
	}
	wg.Wait()

	committed, conflicted := 0, 0
	for _, o := range outcomes {
		switch {
		case o.IsCommitted():
			committed++
		case o.IsConflicted():
			conflicted++
		default:
			t.Errorf("Unexpected failure outcome: %v", o.Err)
		}
	}
	if committed != 1 {
		t.Errorf("Committed = %d, want exactly 1", committed)
	}
	if conflicted != contenders-1 {
		t.Errorf("Conflicted = %d, want %d", conflicted, contenders-1)
	}
}

// TestGuard_ConcreteRace walks the two-client scenario: A and B both edit
// the same cell from the same original; the loser resolves with a forced
// overwrite and wins last-write-wins.
func TestGuard_ConcreteRace(t *testing.T) {
	ctx := context.Background()
	g, cells := newTestGuard(t)
	key := testKey(t, "shot1")
	if err := cells.Write(ctx, key, cell.ValueOf("Original Title")); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	outcomeA := g.Apply(ctx, cell.UpdateIntent{
		Key:           key,
		OriginalValue: cell.ValueOf("Original Title"),
		NewValue:      cell.ValueOf("A Title"),
	})
	if !outcomeA.IsCommitted() {
		t.Fatalf("A expected Committed, got %+v", outcomeA)
	}

	outcomeB := g.Apply(ctx, cell.UpdateIntent{
		Key:           key,
		OriginalValue: cell.ValueOf("Original Title"),
		NewValue:      cell.ValueOf("B Title"),
	})
	if !outcomeB.IsConflicted() {
		t.Fatalf("B expected Conflicted, got %+v", outcomeB)
	}
	if !outcomeB.Conflict.ServerCurrentValue.Equal(cell.ValueOf("A Title")) {
		t.Errorf("B saw server value %s, want %q",
			outcomeB.Conflict.ServerCurrentValue, "A Title")
	}

	// B resolves with overwrite.
	forced := g.Apply(ctx, cell.UpdateIntent{
		Key:      key,
		NewValue: cell.ValueOf("B Title"),
		Force:    true,
	})
	if !forced.IsCommitted() {
		t.Fatalf("Forced resubmit expected Committed, got %+v", forced)
	}

	final, err := cells.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !final.Equal(cell.ValueOf("B Title")) {
		t.Errorf("Final value = %s, want %q", final, "B Title")
	}
}

// newGuardMetrics builds an unregistered Metrics instance so tests can
// inspect collector values without touching the global registry.
func newGuardMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return &observability.Metrics{
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updates_total"},
			[]string{"outcome"},
		),
		LockWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "lock_wait_seconds"},
		),
		ActiveKeyLocks: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "active_key_locks"},
		),
	}
}

func TestGuard_ActiveLocksGauge(t *testing.T) {
	ctx := context.Background()

	cells, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = cells.Close() })

	locks := NewKeyLockTable(TableConfig{SweepInterval: -1})
	t.Cleanup(locks.Close)

	metrics := newGuardMetrics(t)
	g, err := New(cells, locks, metrics)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome := g.Apply(ctx, cell.UpdateIntent{
		Key:      testKey(t, "shot1"),
		NewValue: cell.ValueOf("A Title"),
	})
	if !outcome.IsCommitted() {
		t.Fatalf("Expected Committed, got %+v", outcome)
	}

	// The entry stays in the table after release until the sweep evicts it.
	if got := testutil.ToFloat64(metrics.ActiveKeyLocks); got != 1 {
		t.Errorf("ActiveKeyLocks = %v, want 1", got)
	}

	g.Apply(ctx, cell.UpdateIntent{
		Key:      testKey(t, "shot2"),
		NewValue: cell.ValueOf("B Title"),
	})
	if got := testutil.ToFloat64(metrics.ActiveKeyLocks); got != 2 {
		t.Errorf("ActiveKeyLocks after second key = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.UpdatesTotal.WithLabelValues("committed")); got != 2 {
		t.Errorf("committed counter = %v, want 2", got)
	}
}
