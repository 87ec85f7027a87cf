// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"time"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "2.1.0"

// MaxBatchItems is the maximum number of items in one batch request.
const MaxBatchItems = 250

// =============================================================================
// Requests
// =============================================================================

// UpdateCellRequest is the wire form of one cell update.
//
// # Fields
//
//   - Collection, EntityID, FieldID: The addressed cell.
//   - OriginalValue: Value the client last observed (null/absent for an
//     empty cell).
//   - NewValue: Value to store.
//   - Force: Skip the compare check (last-write-wins).
type UpdateCellRequest struct {
	Collection    string     `json:"collection" binding:"required"`
	EntityID      string     `json:"entity_id" binding:"required"`
	FieldID       string     `json:"field_id" binding:"required"`
	OriginalValue cell.Value `json:"original_value"`
	NewValue      cell.Value `json:"new_value"`
	Force         bool       `json:"force,omitempty"`
}

// intent converts the request into a validated UpdateIntent.
func (r UpdateCellRequest) intent(requestID string) (cell.UpdateIntent, error) {
	key, err := cell.NewKey(r.Collection, r.EntityID, r.FieldID)
	if err != nil {
		return cell.UpdateIntent{}, err
	}
	return cell.UpdateIntent{
		Key:           key,
		OriginalValue: r.OriginalValue,
		NewValue:      r.NewValue,
		Force:         r.Force,
		RequestID:     requestID,
	}, nil
}

// BatchUpdateRequest is the wire form of one batch of cell updates.
// Items are ordered; order is preserved in the results.
type BatchUpdateRequest struct {
	Items []UpdateCellRequest `json:"items" binding:"required,min=1"`
}

// =============================================================================
// Responses
// =============================================================================

// ConflictPayload is the wire form of a detected write-write race.
type ConflictPayload struct {
	CurrentValue  cell.Value `json:"current_value"`
	OriginalValue cell.Value `json:"original_value"`
	DetectedAt    time.Time  `json:"detected_at"`
}

// UpdateCellResponse is the wire form of one update outcome.
//
// Exactly one of UpdatedValue (success), Conflict, or Error is meaningful.
type UpdateCellResponse struct {
	Success      bool             `json:"success"`
	UpdatedValue cell.Value       `json:"updated_value,omitzero"`
	Conflict     *ConflictPayload `json:"conflict,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// BatchConflictEntry points a caller at one conflicted item in a batch.
type BatchConflictEntry struct {
	Index      int             `json:"index"`
	Collection string          `json:"collection"`
	EntityID   string          `json:"entity_id"`
	FieldID    string          `json:"field_id"`
	Conflict   ConflictPayload `json:"conflict"`
}

// BatchUpdateResponse aggregates per-item results for one batch.
//
// # Fields
//
//   - Success: true only if every item committed.
//   - Results: One result per item, in submission order.
//   - Conflicts: Convenience list of the conflicted subset, so the caller
//     can re-run resolution for just those items.
type BatchUpdateResponse struct {
	Success   bool                 `json:"success"`
	Results   []UpdateCellResponse `json:"results"`
	Conflicts []BatchConflictEntry `json:"conflicts,omitempty"`
}

// ReadCellResponse is the wire form of a single cell read.
type ReadCellResponse struct {
	Collection string     `json:"collection"`
	EntityID   string     `json:"entity_id"`
	FieldID    string     `json:"field_id"`
	Value      cell.Value `json:"value"`
}

// ErrorResponse is the uniform error body for non-outcome failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready      bool `json:"ready"`
	ActiveKeys int  `json:"active_keys"`
}

// outcomeResponse converts a domain outcome into its wire form.
func outcomeResponse(o cell.UpdateOutcome) UpdateCellResponse {
	switch o.Status {
	case cell.StatusCommitted:
		return UpdateCellResponse{Success: true, UpdatedValue: o.NewValue}
	case cell.StatusConflicted:
		return UpdateCellResponse{
			Success: false,
			Conflict: &ConflictPayload{
				CurrentValue:  o.Conflict.ServerCurrentValue,
				OriginalValue: o.Conflict.ClientOriginalValue,
				DetectedAt:    o.Conflict.DetectedAt,
			},
		}
	default:
		msg := "internal error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		return UpdateCellResponse{Success: false, Error: msg}
	}
}
