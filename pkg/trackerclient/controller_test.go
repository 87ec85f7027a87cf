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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// fakeSubmitter returns scripted outcomes and records every submitted
// intent.
type fakeSubmitter struct {
	outcomes []cell.UpdateOutcome
	calls    []cell.UpdateIntent
}

func (f *fakeSubmitter) Submit(_ context.Context, intent cell.UpdateIntent) cell.UpdateOutcome {
	f.calls = append(f.calls, intent)
	if len(f.outcomes) == 0 {
		return cell.Failed(errors.New("fakeSubmitter: no scripted outcome"))
	}
	next := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return next
}

func (f *fakeSubmitter) SubmitBatch(ctx context.Context, intents cell.BatchIntent) cell.BatchOutcome {
	out := cell.BatchOutcome{OverallSuccess: true}
	for _, intent := range intents {
		o := f.Submit(ctx, intent)
		out.PerItem = append(out.PerItem, o)
		if !o.IsCommitted() {
			out.OverallSuccess = false
		}
	}
	return out
}

func testIntent(t *testing.T) cell.UpdateIntent {
	t.Helper()
	key, err := cell.NewKey("Shots", "shot1", "title")
	require.NoError(t, err)
	return cell.UpdateIntent{
		Key:           key,
		OriginalValue: cell.ValueOf("Original Title"),
		NewValue:      cell.ValueOf("B Title"),
	}
}

func testConflict(t *testing.T) cell.ConflictRecord {
	t.Helper()
	intent := testIntent(t)
	return cell.ConflictRecord{
		Key:                 intent.Key,
		ClientOriginalValue: intent.OriginalValue,
		ServerCurrentValue:  cell.ValueOf("A Title"),
		DetectedAt:          time.Now().UTC(),
	}
}

func policyReturning(r Resolution) ResolutionPolicy {
	return func(cell.ConflictRecord) Resolution { return r }
}

func TestController_SubmitResolved(t *testing.T) {
	ctx := context.Background()

	t.Run("committed outcome skips the policy", func(t *testing.T) {
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{
			cell.Committed(cell.ValueOf("B Title")),
		}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		policyCalled := false
		outcome := controller.SubmitResolved(ctx, testIntent(t), func(cell.ConflictRecord) Resolution {
			policyCalled = true
			return ResolutionOverwrite
		})

		assert.True(t, outcome.IsCommitted())
		assert.False(t, policyCalled, "policy must not be consulted without a conflict")
		assert.Len(t, fake.calls, 1)
	})

	t.Run("failed outcome passes through untouched", func(t *testing.T) {
		storageErr := errors.New("disk on fire")
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{cell.Failed(storageErr)}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		outcome := controller.SubmitResolved(ctx, testIntent(t), policyReturning(ResolutionOverwrite))
		require.True(t, outcome.IsFailed())
		assert.ErrorIs(t, outcome.Err, storageErr)
		assert.Len(t, fake.calls, 1)
	})

	t.Run("overwrite resubmits with force and the same new value", func(t *testing.T) {
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{
			cell.Conflicted(testConflict(t)),
			cell.Committed(cell.ValueOf("B Title")),
		}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		outcome := controller.SubmitResolved(ctx, testIntent(t), policyReturning(ResolutionOverwrite))
		require.True(t, outcome.IsCommitted())
		assert.True(t, outcome.NewValue.Equal(cell.ValueOf("B Title")))

		require.Len(t, fake.calls, 2)
		resubmit := fake.calls[1]
		assert.True(t, resubmit.Force, "resubmit must set force")
		assert.True(t, resubmit.NewValue.Equal(cell.ValueOf("B Title")),
			"resubmit must keep the client's new value")
	})

	t.Run("storage failure after overwrite surfaces as failed", func(t *testing.T) {
		storageErr := errors.New("write refused")
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{
			cell.Conflicted(testConflict(t)),
			cell.Failed(storageErr),
		}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		outcome := controller.SubmitResolved(ctx, testIntent(t), policyReturning(ResolutionOverwrite))
		require.True(t, outcome.IsFailed())
		assert.ErrorIs(t, outcome.Err, storageErr)
	})

	t.Run("keep_server converges without a second write", func(t *testing.T) {
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{
			cell.Conflicted(testConflict(t)),
		}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		outcome := controller.SubmitResolved(ctx, testIntent(t), policyReturning(ResolutionKeepServer))
		require.True(t, outcome.IsCommitted())
		assert.True(t, outcome.NewValue.Equal(cell.ValueOf("A Title")),
			"outcome must carry the server's value")
		assert.Len(t, fake.calls, 1, "keep_server must not touch storage again")
	})

	t.Run("edit_again propagates the conflict unresolved", func(t *testing.T) {
		conflict := testConflict(t)
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{cell.Conflicted(conflict)}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		outcome := controller.SubmitResolved(ctx, testIntent(t), policyReturning(ResolutionEditAgain))
		require.True(t, outcome.IsConflicted())
		assert.True(t, outcome.Conflict.ServerCurrentValue.Equal(conflict.ServerCurrentValue))
		assert.Len(t, fake.calls, 1, "edit_again must not retry")
	})

	t.Run("missing policy fails the resolution", func(t *testing.T) {
		fake := &fakeSubmitter{outcomes: []cell.UpdateOutcome{
			cell.Conflicted(testConflict(t)),
		}}
		controller, err := NewController(fake)
		require.NoError(t, err)

		outcome := controller.SubmitResolved(ctx, testIntent(t), nil)
		assert.True(t, outcome.IsFailed())
	})
}

func TestNewController(t *testing.T) {
	_, err := NewController(nil)
	assert.Error(t, err)
}
