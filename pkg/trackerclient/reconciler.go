// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trackerclient

import (
	"log/slog"
	"sync"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// =============================================================================
// Types
// =============================================================================

// Mutator rewrites one cached document. A nil input means the entry is
// absent; returning nil removes it.
type Mutator func(doc []byte) []byte

// Invalidator marks a query key as stale so the surrounding data layer
// refetches it. May be nil.
type Invalidator func(queryKey string)

// Snapshot captures the prior state of one cache entry so an optimistic
// mutation can be undone.
type Snapshot struct {
	queryKey string
	prior    []byte
	existed  bool
}

// QueryKey returns the cache entry this snapshot belongs to.
func (s Snapshot) QueryKey() string { return s.queryKey }

// Disposition reports what Finish did with an outcome.
type Disposition string

const (
	// DispositionCommitted means the cache now holds the authoritative
	// committed value.
	DispositionCommitted Disposition = "committed"

	// DispositionRolledBack means the cache was restored to its
	// pre-edit snapshot.
	DispositionRolledBack Disposition = "rolled_back"

	// DispositionSuperseded means a newer edit for the same cell was
	// issued while this one was in flight, so this outcome was
	// discarded without touching the cache.
	DispositionSuperseded Disposition = "superseded"
)

// =============================================================================
// Reconciler
// =============================================================================

// Reconciler speculatively mutates local read caches before server
// confirmation and rolls them back on failure.
//
// # Description
//
// On user edit the caller applies the guessed value optimistically,
// keeping the returned Snapshot. When the update outcome arrives,
// Finish either overwrites the cache with the authoritative committed
// value, rolls back to the snapshot, or discards a superseded outcome.
// Either way the affected query key is handed to the Invalidator so
// views this reconciliation could not reach eventually refetch.
//
// Each edit is tagged with a per-cell sequence number from NextSeq. An
// outcome whose sequence number is no longer the latest issued for its
// cell must not overwrite a newer optimistic value, so Finish drops it.
//
// # Thread Safety
//
// Safe for concurrent use.
type Reconciler struct {
	cache      *QueryCache
	invalidate Invalidator

	mu     sync.Mutex
	latest map[string]uint64
}

// NewReconciler creates a reconciler over the given cache. The
// invalidator may be nil.
func NewReconciler(cache *QueryCache, invalidate Invalidator) *Reconciler {
	if cache == nil {
		cache = NewQueryCache()
	}
	return &Reconciler{
		cache:      cache,
		invalidate: invalidate,
		latest:     make(map[string]uint64),
	}
}

// Cache returns the underlying query cache.
func (r *Reconciler) Cache() *QueryCache { return r.cache }

// NextSeq issues the next sequence number for edits to key. The caller
// stores it on the UpdateIntent; a later NextSeq for the same key
// supersedes every earlier in-flight edit of that cell.
func (r *Reconciler) NextSeq(key cell.Key) uint64 {
	ks := key.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[ks]++
	return r.latest[ks]
}

// ApplyOptimistic mutates the cache entry for queryKey ahead of server
// confirmation and returns a snapshot of the pre-mutation state.
func (r *Reconciler) ApplyOptimistic(queryKey string, mutate Mutator) Snapshot {
	prior, existed := r.cache.mutate(queryKey, mutate)
	return Snapshot{queryKey: queryKey, prior: prior, existed: existed}
}

// Commit discards the optimistic guess in favor of the authoritative
// committed value and invalidates the query key.
//
// authoritative may be nil when the guess already matches the committed
// value.
func (r *Reconciler) Commit(queryKey string, authoritative Mutator) {
	if authoritative != nil {
		r.cache.mutate(queryKey, authoritative)
	}
	r.invalidateKey(queryKey)
}

// Rollback restores the cache entry to its pre-edit snapshot and
// invalidates the query key.
func (r *Reconciler) Rollback(snap Snapshot) {
	r.cache.restore(snap.queryKey, snap.prior, snap.existed)
	r.invalidateKey(snap.queryKey)
}

// Finish routes an update outcome to Commit or Rollback.
//
// # Description
//
//   - Superseded (intent.Seq is not the latest issued for the cell):
//     the outcome is discarded without touching the cache.
//   - Committed: the guess is replaced with the authoritative value
//     via apply(outcome.NewValue) when the two differ.
//   - Conflicted or Failed: the cache rolls back to the snapshot so
//     the UI never shows an unconfirmed value as committed.
//
// # Inputs
//
//   - snap: Snapshot from the ApplyOptimistic call for this edit.
//   - intent: The submitted intent, carrying Seq and the guessed value.
//   - outcome: The outcome delivered for that intent.
//   - apply: Builds a Mutator that writes a given cell value into the
//     cached document. Required for the authoritative overwrite; may be
//     nil if the caller accepts invalidation-only convergence.
func (r *Reconciler) Finish(snap Snapshot, intent cell.UpdateIntent, outcome cell.UpdateOutcome, apply func(cell.Value) Mutator) Disposition {
	if !r.isLatest(intent.Key, intent.Seq) {
		slog.Debug("Discarding superseded update outcome",
			"key", intent.Key.String(),
			"seq", intent.Seq,
		)
		return DispositionSuperseded
	}

	if outcome.IsCommitted() {
		var authoritative Mutator
		if apply != nil && !outcome.NewValue.Equal(intent.NewValue) {
			authoritative = apply(outcome.NewValue)
		}
		r.Commit(snap.queryKey, authoritative)
		return DispositionCommitted
	}

	r.Rollback(snap)
	return DispositionRolledBack
}

// =============================================================================
// Private Helpers
// =============================================================================

func (r *Reconciler) isLatest(key cell.Key, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest[key.String()] == seq
}

func (r *Reconciler) invalidateKey(queryKey string) {
	if r.invalidate != nil {
		r.invalidate(queryKey)
	}
}
