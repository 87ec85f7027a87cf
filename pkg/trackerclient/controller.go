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
	"fmt"
	"log/slog"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// =============================================================================
// Resolution Policy
// =============================================================================

// Resolution is a caller's decision about a detected conflict.
type Resolution string

const (
	// ResolutionOverwrite re-submits the client's value with force set,
	// establishing last-write-wins.
	ResolutionOverwrite Resolution = "overwrite"

	// ResolutionKeepServer accepts the server's current value without a
	// second write.
	ResolutionKeepServer Resolution = "keep_server"

	// ResolutionEditAgain hands the conflict back to the caller
	// unresolved for manual re-entry.
	ResolutionEditAgain Resolution = "edit_again"
)

// ResolutionPolicy decides how to proceed after a write-write conflict.
//
// # Description
//
// The policy is a capability the caller supplies. Typically it prompts
// the user with both values and returns their choice. It is consulted
// exactly once per conflict; no implicit retry loop exists beyond the
// single resolution step.
type ResolutionPolicy func(conflict cell.ConflictRecord) Resolution

// =============================================================================
// Controller
// =============================================================================

// Controller submits update intents and routes conflicts through a
// resolution policy.
//
// # Thread Safety
//
// Safe for concurrent use when the underlying Submitter is.
type Controller struct {
	submitter Submitter
}

// NewController creates a conflict resolution controller.
func NewController(submitter Submitter) (*Controller, error) {
	if submitter == nil {
		return nil, fmt.Errorf("trackerclient: submitter is required")
	}
	return &Controller{submitter: submitter}, nil
}

// Submit applies one intent without any conflict handling.
//
// Committed, Conflicted, and Failed all return as-is. Callers that want
// policy-driven resolution use SubmitResolved or Resolve.
func (c *Controller) Submit(ctx context.Context, intent cell.UpdateIntent) cell.UpdateOutcome {
	return c.submitter.Submit(ctx, intent)
}

// SubmitResolved applies one intent and, on conflict, resolves it with
// the given policy.
//
// # Description
//
// Calls the guard once. Committed and Failed outcomes return as-is. A
// Conflicted outcome is passed to Resolve, so the returned outcome
// reflects the policy's decision.
func (c *Controller) SubmitResolved(ctx context.Context, intent cell.UpdateIntent, policy ResolutionPolicy) cell.UpdateOutcome {
	outcome := c.submitter.Submit(ctx, intent)
	if !outcome.IsConflicted() {
		return outcome
	}
	return c.Resolve(ctx, intent, *outcome.Conflict, policy)
}

// Resolve consults the policy about a detected conflict and acts on its
// decision.
//
// # Description
//
//   - overwrite: re-submits with force set and the client's new value
//     unchanged. The result is Committed barring a storage failure,
//     which surfaces as Failed rather than being swallowed.
//   - keep_server: synthesizes Committed with the server's current
//     value, with zero additional writes, so the caller's local state
//     converges to the authoritative value.
//   - edit_again: returns the original Conflicted outcome so the caller
//     can re-present the server value for manual re-entry.
//
// # Inputs
//
//   - intent: The intent that produced the conflict. Its NewValue is
//     reused for an overwrite.
//   - conflict: The conflict record from the guard.
//   - policy: The caller's resolution capability. Required.
func (c *Controller) Resolve(ctx context.Context, intent cell.UpdateIntent, conflict cell.ConflictRecord, policy ResolutionPolicy) cell.UpdateOutcome {
	if policy == nil {
		return cell.Failed(fmt.Errorf("trackerclient: resolution policy is required"))
	}

	decision := policy(conflict)
	slog.Debug("Conflict resolution decided",
		"key", conflict.Key.String(),
		"resolution", string(decision),
	)

	switch decision {
	case ResolutionOverwrite:
		forced := intent
		forced.Force = true
		return c.submitter.Submit(ctx, forced)
	case ResolutionKeepServer:
		return cell.Committed(conflict.ServerCurrentValue)
	case ResolutionEditAgain:
		return cell.Conflicted(conflict)
	default:
		return cell.Failed(fmt.Errorf("trackerclient: unknown resolution %q", decision))
	}
}

// SubmitBatch applies a batch of independent intents.
//
// Conflicted items are reported individually so the caller can run
// Resolve for just the conflicting subset.
func (c *Controller) SubmitBatch(ctx context.Context, intents cell.BatchIntent) cell.BatchOutcome {
	return c.submitter.SubmitBatch(ctx, intents)
}
