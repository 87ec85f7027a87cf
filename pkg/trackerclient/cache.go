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
	"sync"
)

// =============================================================================
// Query Cache
// =============================================================================

// QueryCache holds client-side read results keyed by query identity.
//
// # Description
//
// A query key names one cached read result, e.g. "Shots/shot1" for a
// detail view or "Shots?page=1" for a list view. Entries are raw JSON
// documents; the cache does not interpret their shape. The Reconciler
// mutates entries optimistically and restores them from snapshots.
//
// # Thread Safety
//
// Safe for concurrent use. Get returns a copy, so callers cannot
// corrupt cached bytes.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewQueryCache creates an empty query cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{
		entries: make(map[string][]byte),
	}
}

// Get returns a copy of the cached document for queryKey.
func (qc *QueryCache) Get(queryKey string) ([]byte, bool) {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	doc, ok := qc.entries[queryKey]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, true
}

// Set stores a copy of doc under queryKey.
func (qc *QueryCache) Set(queryKey string, doc []byte) {
	stored := make([]byte, len(doc))
	copy(stored, doc)

	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.entries[queryKey] = stored
}

// Delete removes the entry for queryKey, if present.
func (qc *QueryCache) Delete(queryKey string) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	delete(qc.entries, queryKey)
}

// Len returns the number of cached entries.
func (qc *QueryCache) Len() int {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	return len(qc.entries)
}

// mutate applies fn to the current entry under the write lock and
// returns the prior state for snapshotting.
func (qc *QueryCache) mutate(queryKey string, fn Mutator) (prior []byte, existed bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	doc, ok := qc.entries[queryKey]
	if ok {
		prior = make([]byte, len(doc))
		copy(prior, doc)
	}

	next := fn(doc)
	if next == nil {
		delete(qc.entries, queryKey)
	} else {
		stored := make([]byte, len(next))
		copy(stored, next)
		qc.entries[queryKey] = stored
	}
	return prior, ok
}

// restore puts an entry back into its snapshotted state.
func (qc *QueryCache) restore(queryKey string, prior []byte, existed bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	if !existed {
		delete(qc.entries, queryKey)
		return
	}
	stored := make([]byte, len(prior))
	copy(stored, prior)
	qc.entries[queryKey] = stored
}
