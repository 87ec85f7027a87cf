// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard implements the compare-and-swap guard: the single place where
// atomicity is manufactured on top of the non-transactional cell store.
//
// # Description
//
// The backing store offers read-then-write, not atomic compare-and-swap.
// Without per-key serialization, two intents carrying the same stale original
// value could both pass the comparison before either writes, both report
// Committed, and silently lose one update. The guard therefore serializes the
// read-compare-write section per cell key (KeyLockTable) and enforces "write
// only if the stored value equals the client's believed original value".
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/observability"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/store"
)

// ErrCancelled indicates the caller's context ended before the guard could
// acquire the key's serialization token.
var ErrCancelled = errors.New("update cancelled before serialization")

// Guard applies update intents with per-key compare-and-swap semantics.
//
// # Description
//
// Apply is the whole contract: one intent in, exactly one outcome out.
// The serialization token for the intent's key is held for the duration of
// the read-compare-write section and released on every exit path — success,
// conflict, storage failure, or panic.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Apply calls for the same key are
// totally ordered; calls for different keys run unconstrained.
type Guard struct {
	cells   store.CellStore
	locks   *KeyLockTable
	metrics *observability.Metrics
}

// New creates a Guard over the given cell store.
//
// # Inputs
//
//   - cells: The cell store adapter. Must not be nil.
//   - locks: Per-key lock table. Must not be nil; the caller owns its
//     lifecycle (Close).
//   - metrics: Metrics sink. May be nil (no-op).
//
// # Outputs
//
//   - *Guard: Ready-to-use guard.
//   - error: Non-nil if a required dependency is missing.
func New(cells store.CellStore, locks *KeyLockTable, metrics *observability.Metrics) (*Guard, error) {
	if cells == nil {
		return nil, errors.New("cell store must not be nil")
	}
	if locks == nil {
		return nil, errors.New("lock table must not be nil")
	}
	return &Guard{cells: cells, locks: locks, metrics: metrics}, nil
}

// Apply executes one update intent under per-key serialization.
//
// # Description
//
// Acquires the key's serialization token, reads the current value, then:
//   - Force set: writes NewValue unconditionally → Committed.
//   - Stored value equals OriginalValue (value equality, never identity):
//     writes NewValue → Committed.
//   - Otherwise: returns Conflicted carrying the actual current value,
//     without mutating the store.
//
// Storage failures on either the read or the write surface as Failed; no
// partial write has occurred in that case, so the caller may retry the whole
// intent from scratch. The token is released on every path and is never
// consumed or leaked.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancellation while waiting for the
//     token yields Failed wrapping ErrCancelled.
//   - intent: The update to apply. Must carry a valid key; malformed
//     intents are rejected before the token is touched.
//
// # Outputs
//
//   - cell.UpdateOutcome: Exactly one of Committed, Conflicted, or Failed.
func (g *Guard) Apply(ctx context.Context, intent cell.UpdateIntent) cell.UpdateOutcome {
	// Validation errors are caller errors; reject before serialization.
	if err := intent.Validate(); err != nil {
		return cell.Failed(err)
	}

	lockWait := time.Now()
	if err := g.locks.Acquire(ctx, intent.Key); err != nil {
		return cell.Failed(fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	defer func() {
		g.locks.Release(intent.Key)
		g.gaugeActiveLocks()
	}()
	g.observeLockWait(time.Since(lockWait))
	g.gaugeActiveLocks()

	current, err := g.cells.Read(ctx, intent.Key)
	if err != nil {
		g.count(observability.OutcomeFailed)
		return cell.Failed(fmt.Errorf("read current value: %w", err))
	}

	if !intent.Force && !current.Equal(intent.OriginalValue) {
		slog.Debug("Update conflicted",
			"key", intent.Key.String(),
			"request_id", intent.RequestID)
		g.count(observability.OutcomeConflicted)
		return cell.Conflicted(cell.ConflictRecord{
			Key:                 intent.Key,
			ClientOriginalValue: intent.OriginalValue,
			ServerCurrentValue:  current,
			DetectedAt:          time.Now().UTC(),
		})
	}

	if err := g.cells.Write(ctx, intent.Key, intent.NewValue); err != nil {
		g.count(observability.OutcomeFailed)
		return cell.Failed(fmt.Errorf("write new value: %w", err))
	}

	slog.Debug("Update committed",
		"key", intent.Key.String(),
		"forced", intent.Force,
		"request_id", intent.RequestID)
	g.count(observability.OutcomeCommitted)
	return cell.Committed(intent.NewValue)
}

func (g *Guard) count(outcome observability.Outcome) {
	if g.metrics != nil {
		g.metrics.RecordUpdate(outcome)
	}
}

func (g *Guard) observeLockWait(d time.Duration) {
	if g.metrics != nil {
		g.metrics.RecordLockWait(d.Seconds())
	}
}

func (g *Guard) gaugeActiveLocks() {
	if g.metrics != nil {
		g.metrics.SetActiveKeyLocks(g.locks.Len())
	}
}
