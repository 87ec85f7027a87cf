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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

const shotDetailKey = "Shots/shot1"

// setTitle builds a mutator that rewrites the "title" field of a cached
// shot document.
func setTitle(v cell.Value) Mutator {
	return func(doc []byte) []byte {
		var shot map[string]json.RawMessage
		if err := json.Unmarshal(doc, &shot); err != nil {
			return doc
		}
		shot["title"] = v.Raw()
		out, err := json.Marshal(shot)
		if err != nil {
			return doc
		}
		return out
	}
}

func seedShotDoc(t *testing.T, cache *QueryCache) []byte {
	t.Helper()
	doc := []byte(`{"id":"shot1","status":"ip","title":"Original Title"}`)
	cache.Set(shotDetailKey, doc)
	return doc
}

func TestReconciler_ApplyOptimistic(t *testing.T) {
	cache := NewQueryCache()
	rec := NewReconciler(cache, nil)
	original := seedShotDoc(t, cache)

	snap := rec.ApplyOptimistic(shotDetailKey, setTitle(cell.ValueOf("B Title")))
	assert.Equal(t, shotDetailKey, snap.QueryKey())

	mutated, ok := cache.Get(shotDetailKey)
	require.True(t, ok)
	assert.NotEqual(t, original, mutated, "optimistic mutation should change the doc")
	assert.Contains(t, string(mutated), "B Title")
}

func TestReconciler_Rollback(t *testing.T) {
	t.Run("restores the exact pre-edit bytes", func(t *testing.T) {
		cache := NewQueryCache()
		rec := NewReconciler(cache, nil)
		original := seedShotDoc(t, cache)

		snap := rec.ApplyOptimistic(shotDetailKey, setTitle(cell.ValueOf("B Title")))
		rec.Rollback(snap)

		restored, ok := cache.Get(shotDetailKey)
		require.True(t, ok)
		assert.Equal(t, original, restored, "rollback must be byte-exact")
	})

	t.Run("removes an entry that did not exist before", func(t *testing.T) {
		cache := NewQueryCache()
		rec := NewReconciler(cache, nil)

		snap := rec.ApplyOptimistic("Shots/ghost", func([]byte) []byte {
			return []byte(`{"id":"ghost"}`)
		})
		_, ok := cache.Get("Shots/ghost")
		require.True(t, ok)

		rec.Rollback(snap)
		_, ok = cache.Get("Shots/ghost")
		assert.False(t, ok, "rollback must remove a freshly created entry")
	})
}

func TestReconciler_Finish(t *testing.T) {
	newIntent := func(t *testing.T, rec *Reconciler, guess cell.Value) cell.UpdateIntent {
		t.Helper()
		key, err := cell.NewKey("Shots", "shot1", "title")
		require.NoError(t, err)
		return cell.UpdateIntent{
			Key:      key,
			NewValue: guess,
			Seq:      rec.NextSeq(key),
		}
	}

	t.Run("committed keeps the guess when values match", func(t *testing.T) {
		cache := NewQueryCache()
		var invalidated []string
		rec := NewReconciler(cache, func(qk string) { invalidated = append(invalidated, qk) })
		seedShotDoc(t, cache)

		guess := cell.ValueOf("B Title")
		intent := newIntent(t, rec, guess)
		snap := rec.ApplyOptimistic(shotDetailKey, setTitle(guess))

		d := rec.Finish(snap, intent, cell.Committed(guess), setTitle)
		assert.Equal(t, DispositionCommitted, d)

		doc, _ := cache.Get(shotDetailKey)
		assert.Contains(t, string(doc), "B Title")
		assert.Equal(t, []string{shotDetailKey}, invalidated)
	})

	t.Run("committed overwrites with the authoritative value when they differ", func(t *testing.T) {
		cache := NewQueryCache()
		rec := NewReconciler(cache, nil)
		seedShotDoc(t, cache)

		guess := cell.ValueOf("B Title")
		intent := newIntent(t, rec, guess)
		snap := rec.ApplyOptimistic(shotDetailKey, setTitle(guess))

		// keep_server resolution: the authoritative value is A's title.
		d := rec.Finish(snap, intent, cell.Committed(cell.ValueOf("A Title")), setTitle)
		assert.Equal(t, DispositionCommitted, d)

		doc, _ := cache.Get(shotDetailKey)
		assert.Contains(t, string(doc), "A Title")
		assert.NotContains(t, string(doc), "B Title")
	})

	t.Run("failed rolls back to the snapshot", func(t *testing.T) {
		cache := NewQueryCache()
		rec := NewReconciler(cache, nil)
		original := seedShotDoc(t, cache)

		guess := cell.ValueOf("B Title")
		intent := newIntent(t, rec, guess)
		snap := rec.ApplyOptimistic(shotDetailKey, setTitle(guess))

		d := rec.Finish(snap, intent, cell.Failed(errors.New("boom")), setTitle)
		assert.Equal(t, DispositionRolledBack, d)

		doc, _ := cache.Get(shotDetailKey)
		assert.Equal(t, original, doc, "failed outcome must restore pre-edit bytes")
	})

	t.Run("unresolved conflict rolls back", func(t *testing.T) {
		cache := NewQueryCache()
		rec := NewReconciler(cache, nil)
		original := seedShotDoc(t, cache)

		guess := cell.ValueOf("B Title")
		intent := newIntent(t, rec, guess)
		snap := rec.ApplyOptimistic(shotDetailKey, setTitle(guess))

		conflict := cell.ConflictRecord{
			Key:                intent.Key,
			ServerCurrentValue: cell.ValueOf("A Title"),
		}
		d := rec.Finish(snap, intent, cell.Conflicted(conflict), setTitle)
		assert.Equal(t, DispositionRolledBack, d)

		doc, _ := cache.Get(shotDetailKey)
		assert.Equal(t, original, doc)
	})

	t.Run("superseded outcome never clobbers a newer edit", func(t *testing.T) {
		cache := NewQueryCache()
		rec := NewReconciler(cache, nil)
		seedShotDoc(t, cache)

		// First edit goes in flight.
		first := newIntent(t, rec, cell.ValueOf("B Title"))
		firstSnap := rec.ApplyOptimistic(shotDetailKey, setTitle(cell.ValueOf("B Title")))

		// User re-edits the same cell before the first resolves.
		second := newIntent(t, rec, cell.ValueOf("C Title"))
		rec.ApplyOptimistic(shotDetailKey, setTitle(cell.ValueOf("C Title")))

		// The first outcome arrives late and must be discarded.
		d := rec.Finish(firstSnap, first, cell.Committed(cell.ValueOf("B Title")), setTitle)
		assert.Equal(t, DispositionSuperseded, d)

		doc, _ := cache.Get(shotDetailKey)
		assert.Contains(t, string(doc), "C Title", "newer optimistic value must survive")

		// The second outcome still reconciles normally.
		secondSnap := Snapshot{queryKey: shotDetailKey}
		d = rec.Finish(secondSnap, second, cell.Committed(cell.ValueOf("C Title")), setTitle)
		assert.Equal(t, DispositionCommitted, d)
	})
}

func TestQueryCache(t *testing.T) {
	t.Run("get returns a defensive copy", func(t *testing.T) {
		cache := NewQueryCache()
		cache.Set("k", []byte(`{"a":1}`))

		doc, ok := cache.Get("k")
		require.True(t, ok)
		doc[0] = 'X'

		again, _ := cache.Get("k")
		assert.Equal(t, []byte(`{"a":1}`), again, "mutating a Get result must not corrupt the cache")
	})

	t.Run("delete removes entries", func(t *testing.T) {
		cache := NewQueryCache()
		cache.Set("k", []byte(`1`))
		cache.Delete("k")
		_, ok := cache.Get("k")
		assert.False(t, ok)
		assert.Zero(t, cache.Len())
	})
}
