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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// KeyLockTable hands out per-cell-key serialization tokens.
//
// # Description
//
// The table maps each cell key to an entry holding a one-slot semaphore.
// Acquire blocks (context-aware) until the caller holds the key's token;
// Release returns it. No two holders of the same key's token run
// concurrently; different keys are unconstrained.
//
// Entries are reference counted and a background sweep evicts entries that
// have been idle longer than the configured TTL, so the table stays bounded
// under an unbounded key space.
//
// # Thread Safety
//
// All public methods are safe for concurrent use from multiple goroutines.
type KeyLockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry

	idleTTL time.Duration
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// lockEntry is the serialization token for one key.
//
// sem is a one-slot semaphore: a buffered channel of capacity 1. Holding the
// token means having received from an initially-full channel slot; sending
// returns it. refs counts goroutines between Acquire entry and Release exit
// so the sweep never evicts an entry somebody is waiting on.
type lockEntry struct {
	sem      chan struct{}
	refs     int
	lastUsed time.Time
}

// TableConfig configures a KeyLockTable.
type TableConfig struct {
	// IdleTTL is how long an unreferenced entry may sit before eviction.
	// Default: 5 minutes.
	IdleTTL time.Duration

	// SweepInterval is how often the eviction sweep runs.
	// Default: 1 minute. Negative disables background sweeping.
	SweepInterval time.Duration
}

// DefaultTableConfig returns production defaults for the lock table.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		IdleTTL:       5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// NewKeyLockTable creates a lock table and starts its eviction sweep.
//
// # Inputs
//
//   - cfg: Table configuration. Zero values use defaults.
//
// # Outputs
//
//   - *KeyLockTable: Ready-to-use table. Call Close() when done.
func NewKeyLockTable(cfg TableConfig) *KeyLockTable {
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}

	t := &KeyLockTable{
		entries: make(map[string]*lockEntry),
		idleTTL: cfg.IdleTTL,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		t.started = true
		go t.sweepLoop(cfg.SweepInterval)
	} else {
		close(t.doneCh)
	}

	return t
}

// Acquire takes the serialization token for key, blocking until it is free
// or the context is cancelled.
//
// # Description
//
// Callers for the same key are granted the token one at a time, in the order
// the runtime wakes them. The caller must call Release exactly once on every
// exit path after a successful Acquire.
//
// # Inputs
//
//   - ctx: Context for cancellation while waiting.
//   - key: The cell key to serialize on.
//
// # Outputs
//
//   - error: Non-nil only if ctx was cancelled before the token was granted;
//     in that case the caller must NOT call Release.
func (t *KeyLockTable) Acquire(ctx context.Context, key cell.Key) error {
	k := key.String()

	t.mu.Lock()
	entry, ok := t.entries[k]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		entry.sem <- struct{}{}
		t.entries[k] = entry
	}
	entry.refs++
	t.mu.Unlock()

	select {
	case <-entry.sem:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		entry.refs--
		entry.lastUsed = time.Now()
		t.mu.Unlock()
		return fmt.Errorf("waiting for %s: %w", k, ctx.Err())
	}
}

// Release returns the serialization token for key.
//
// Must be paired with a successful Acquire. Releasing a key that is not
// held is a programming error and panics, matching sync.Mutex semantics.
func (t *KeyLockTable) Release(key cell.Key) {
	k := key.String()

	t.mu.Lock()
	entry, ok := t.entries[k]
	if !ok {
		t.mu.Unlock()
		panic(fmt.Sprintf("guard: release of unheld key %s", k))
	}
	entry.refs--
	entry.lastUsed = time.Now()
	t.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	default:
		panic(fmt.Sprintf("guard: double release of key %s", k))
	}
}

// Len returns the current number of tracked entries. Intended for metrics
// and tests.
func (t *KeyLockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops the eviction sweep. Held tokens are unaffected.
func (t *KeyLockTable) Close() {
	if !t.started {
		return
	}
	t.started = false
	close(t.stopCh)
	<-t.doneCh
}

// sweepLoop evicts idle entries on a ticker until Close.
func (t *KeyLockTable) sweepLoop(interval time.Duration) {
	defer close(t.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			evicted := t.sweep(time.Now())
			if evicted > 0 {
				slog.Debug("Evicted idle key locks",
					"count", evicted,
					"remaining", t.Len())
			}
		}
	}
}

// sweep removes entries with no holders or waiters that have been idle
// past the TTL. Returns the number of evicted entries.
func (t *KeyLockTable) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for k, entry := range t.entries {
		if entry.refs > 0 {
			continue
		}
		if now.Sub(entry.lastUsed) < t.idleTTL {
			continue
		}
		delete(t.entries, k)
		evicted++
	}
	return evicted
}
