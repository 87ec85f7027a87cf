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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/batch"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/feed"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/guard"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/store"
)

// Handlers carries the HTTP handlers for the tracker service.
type Handlers struct {
	guard       *guard.Guard
	coordinator *batch.Coordinator
	cells       store.CellStore
	hub         *feed.Hub
	locks       *guard.KeyLockTable
}

// NewHandlers creates handlers over the given components.
func NewHandlers(g *guard.Guard, c *batch.Coordinator, cells store.CellStore, hub *feed.Hub, locks *guard.KeyLockTable) *Handlers {
	return &Handlers{guard: g, coordinator: c, cells: cells, hub: hub, locks: locks}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one,
// echoing it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleUpdateCell handles POST /v1/cells/update.
//
// Description:
//
//	Applies one optimistic cell update through the compare-and-swap guard.
//
// Request Body:
//
//	UpdateCellRequest
//
// Response:
//
//	200 OK: UpdateCellResponse{success:true, updated_value}
//	409 Conflict: UpdateCellResponse{success:false, conflict:{...}}
//	400 Bad Request: ErrorResponse (malformed body or key)
//	500 Internal Server Error: UpdateCellResponse{success:false, error}
func (h *Handlers) HandleUpdateCell(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleUpdateCell")

	var req UpdateCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	intent, err := req.intent(requestID)
	if err != nil {
		logger.Warn("Invalid cell key", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_KEY",
		})
		return
	}

	outcome := h.guard.Apply(c.Request.Context(), intent)
	h.publishIfCommitted(intent, outcome)

	switch outcome.Status {
	case cell.StatusCommitted:
		c.JSON(http.StatusOK, outcomeResponse(outcome))
	case cell.StatusConflicted:
		logger.Info("Cell update conflicted", "key", intent.Key.String())
		c.JSON(http.StatusConflict, outcomeResponse(outcome))
	default:
		status := http.StatusInternalServerError
		if errors.Is(outcome.Err, guard.ErrCancelled) {
			status = http.StatusServiceUnavailable
		}
		logger.Error("Cell update failed", "key", intent.Key.String(), "error", outcome.Err)
		c.JSON(status, outcomeResponse(outcome))
	}
}

// HandleBatchUpdate handles POST /v1/cells/batch.
//
// Description:
//
//	Fans a batch of cell updates out to the guard, one outcome per item.
//	Partial failure is expected: conflicted and failed items are reported
//	individually and do not roll back siblings.
//
// Request Body:
//
//	BatchUpdateRequest
//
// Response:
//
//	200 OK: BatchUpdateResponse (success reflects the conjunction of items)
//	400 Bad Request: ErrorResponse (malformed body, oversized batch, bad key)
func (h *Handlers) HandleBatchUpdate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBatchUpdate")

	var req BatchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if len(req.Items) > MaxBatchItems {
		logger.Warn("Batch too large", "items", len(req.Items))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrBatchTooLarge.Error(),
			Code:  "BATCH_TOO_LARGE",
		})
		return
	}

	intents := make(cell.BatchIntent, 0, len(req.Items))
	for i, item := range req.Items {
		intent, err := item.intent(requestID)
		if err != nil {
			logger.Warn("Invalid cell key in batch", "index", i, "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_KEY",
			})
			return
		}
		intents = append(intents, intent)
	}

	outcome := h.coordinator.SubmitBatch(c.Request.Context(), intents)

	resp := BatchUpdateResponse{
		Success: outcome.OverallSuccess,
		Results: make([]UpdateCellResponse, len(outcome.PerItem)),
	}
	for i, item := range outcome.PerItem {
		resp.Results[i] = outcomeResponse(item)
		h.publishIfCommitted(intents[i], item)
		if item.IsConflicted() {
			resp.Conflicts = append(resp.Conflicts, BatchConflictEntry{
				Index:      i,
				Collection: intents[i].Key.Collection,
				EntityID:   intents[i].Key.EntityID,
				FieldID:    intents[i].Key.FieldID,
				Conflict:   *resp.Results[i].Conflict,
			})
		}
	}

	logger.Info("Batch update completed",
		"items", len(intents),
		"success", outcome.OverallSuccess,
		"conflicts", len(resp.Conflicts))
	c.JSON(http.StatusOK, resp)
}

// HandleReadCell handles GET /v1/cells/value/:collection/:entity/:field.
//
// Description:
//
//	Reads the current committed value of one cell. Absent cells return a
//	null value rather than 404 so clients can distinguish "empty" from
//	"no such route".
//
// Response:
//
//	200 OK: ReadCellResponse
//	400 Bad Request: ErrorResponse (malformed key)
//	500 Internal Server Error: ErrorResponse
func (h *Handlers) HandleReadCell(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReadCell")

	key, err := cell.NewKey(c.Param("collection"), c.Param("entity"), c.Param("field"))
	if err != nil {
		logger.Warn("Invalid cell key", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_KEY",
		})
		return
	}

	value, err := h.cells.Read(c.Request.Context(), key)
	if err != nil {
		logger.Error("Cell read failed", "key", key.String(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to read cell",
			Code:  "READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, ReadCellResponse{
		Collection: key.Collection,
		EntityID:   key.EntityID,
		FieldID:    key.FieldID,
		Value:      value,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleReady handles GET /ready.
//
// Reports 503 until the cell store, guard, and lock table are all wired.
func (h *Handlers) HandleReady(c *gin.Context) {
	if h.cells == nil || h.guard == nil || h.locks == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrNotReady.Error(),
			Code:  "NOT_READY",
		})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Ready: true, ActiveKeys: h.locks.Len()})
}

// publishIfCommitted pushes committed updates onto the live feed.
func (h *Handlers) publishIfCommitted(intent cell.UpdateIntent, outcome cell.UpdateOutcome) {
	if h.hub == nil || !outcome.IsCommitted() {
		return
	}
	h.hub.Publish(intent.Key, outcome.NewValue, intent.Force, intent.RequestID)
}
