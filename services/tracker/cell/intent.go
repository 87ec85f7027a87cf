// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cell

import "time"

// UpdateIntent is one client edit awaiting compare-and-swap.
//
// # Description
//
// Created by the UI on every edit commit and consumed exactly once by the
// guard. OriginalValue is the value the client last observed for the key;
// Force skips the comparison entirely (last-write-wins, used by the
// "overwrite" conflict resolution).
//
// # Fields
//
//   - Key: The addressed cell.
//   - OriginalValue: Value the client believes is currently stored.
//   - NewValue: Value the client wants to store.
//   - Force: Skip the compare check and write unconditionally.
//   - RequestID: Correlation ID for logs and tracing.
//   - Seq: Per-key client sequence number. The reconciler discards outcomes
//     whose Seq is no longer the latest issued for the key, so a superseded
//     in-flight edit can never clobber a newer optimistic value.
type UpdateIntent struct {
	Key           Key    `json:"key"`
	OriginalValue Value  `json:"original_value"`
	NewValue      Value  `json:"new_value"`
	Force         bool   `json:"force,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	Seq           uint64 `json:"-"`
}

// Validate checks the intent before it may reach the guard.
func (i UpdateIntent) Validate() error {
	return i.Key.Validate()
}

// ConflictRecord describes one detected write-write race.
//
// # Description
//
// Produced only by the guard, when a non-forced intent's OriginalValue does
// not match the stored value. It lives only long enough to be shown to a
// resolution policy (or re-presented to the user for manual re-entry).
type ConflictRecord struct {
	Key                 Key       `json:"key"`
	ClientOriginalValue Value     `json:"original_value"`
	ServerCurrentValue  Value     `json:"current_value"`
	DetectedAt          time.Time `json:"detected_at"`
}

// =============================================================================
// Outcomes
// =============================================================================

// Status tags an UpdateOutcome variant.
type Status string

const (
	// StatusCommitted means the write was applied.
	StatusCommitted Status = "committed"

	// StatusConflicted means the compare failed; nothing was written.
	StatusConflicted Status = "conflicted"

	// StatusFailed means storage or an internal error prevented the write.
	StatusFailed Status = "failed"
)

// UpdateOutcome is the single result of one UpdateIntent.
//
// # Description
//
// Tagged variant: exactly one of NewValue (committed), Conflict (conflicted),
// or Err (failed) is meaningful, selected by Status. One outcome is produced
// per intent, never both a conflict and a commit.
type UpdateOutcome struct {
	Status   Status
	NewValue Value
	Conflict *ConflictRecord
	Err      error
}

// Committed builds the outcome for an applied write.
func Committed(newValue Value) UpdateOutcome {
	return UpdateOutcome{Status: StatusCommitted, NewValue: newValue}
}

// Conflicted builds the outcome for a detected race. The record carries the
// authoritative current value so the client can converge without re-reading.
func Conflicted(rec ConflictRecord) UpdateOutcome {
	return UpdateOutcome{Status: StatusConflicted, Conflict: &rec}
}

// Failed builds the outcome for a storage or internal error.
func Failed(err error) UpdateOutcome {
	return UpdateOutcome{Status: StatusFailed, Err: err}
}

// IsCommitted reports whether the write was applied.
func (o UpdateOutcome) IsCommitted() bool { return o.Status == StatusCommitted }

// IsConflicted reports whether the compare failed.
func (o UpdateOutcome) IsConflicted() bool { return o.Status == StatusConflicted }

// IsFailed reports whether an error prevented the write.
func (o UpdateOutcome) IsFailed() bool { return o.Status == StatusFailed }

// =============================================================================
// Batches
// =============================================================================

// BatchIntent is an ordered list of updates, possibly spanning collections.
// Items are independent by design: there is no cross-item atomicity.
type BatchIntent []UpdateIntent

// BatchOutcome aggregates per-item outcomes for one BatchIntent.
//
// # Fields
//
//   - PerItem: One outcome per intent, in submission order.
//   - OverallSuccess: true only if every item committed. Conflicted or
//     failed items are reported individually so the caller can resolve
//     just the affected subset.
type BatchOutcome struct {
	PerItem        []UpdateOutcome
	OverallSuccess bool
}
