// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch fans groups of cell updates out to the compare-and-swap
// guard and aggregates per-item outcomes.
//
// # Description
//
// Items in a batch are independent by design: there is no cross-item locking
// and no rollback of siblings when one item conflicts or fails. Items
// addressing different keys are dispatched concurrently; items addressing
// the same key are applied in submission order within a single goroutine,
// so the guard's per-key serialization holds uniformly regardless of batch
// membership.
package batch

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/observability"
)

// DefaultMaxConcurrency bounds how many distinct keys are updated in
// parallel for one batch.
const DefaultMaxConcurrency = 16

// Applier is the single-update surface the coordinator fans out to.
// Satisfied by *guard.Guard.
type Applier interface {
	Apply(ctx context.Context, intent cell.UpdateIntent) cell.UpdateOutcome
}

// Coordinator submits batches of cell updates.
//
// # Thread Safety
//
// Safe for concurrent use; SubmitBatch calls are independent.
type Coordinator struct {
	applier        Applier
	metrics        *observability.Metrics
	maxConcurrency int
}

// NewCoordinator creates a batch coordinator over the given applier.
//
// # Inputs
//
//   - applier: Single-update surface (normally the guard). Must not be nil.
//   - metrics: Metrics sink. May be nil (no-op).
//
// # Outputs
//
//   - *Coordinator: Ready-to-use coordinator.
//   - error: Non-nil if applier is nil.
func NewCoordinator(applier Applier, metrics *observability.Metrics) (*Coordinator, error) {
	if applier == nil {
		return nil, errors.New("applier must not be nil")
	}
	return &Coordinator{
		applier:        applier,
		metrics:        metrics,
		maxConcurrency: DefaultMaxConcurrency,
	}, nil
}

// SubmitBatch applies every item of the batch and aggregates outcomes.
//
// # Description
//
// Intents are grouped by cell key. Each group runs in its own goroutine
// (bounded by DefaultMaxConcurrency) and applies its items strictly in
// submission order, so two updates to the same key within one batch cannot
// race each other. Partial failure is expected and allowed: one item's
// Conflicted or Failed outcome does not block or roll back sibling items.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancellation surfaces as Failed
//     outcomes on the not-yet-applied items.
//   - intents: Ordered list of updates, possibly spanning collections.
//
// # Outputs
//
//   - cell.BatchOutcome: One outcome per intent, positionally matching the
//     input order. OverallSuccess is the conjunction of per-item commits;
//     an empty batch is vacuously successful.
func (c *Coordinator) SubmitBatch(ctx context.Context, intents cell.BatchIntent) cell.BatchOutcome {
	outcomes := make([]cell.UpdateOutcome, len(intents))

	// Group item indices by key, preserving submission order per key.
	groups := make(map[string][]int)
	order := make([]string, 0, len(intents))
	for i, intent := range intents {
		k := intent.Key.String()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)

	for _, k := range order {
		indices := groups[k]
		g.Go(func() error {
			for _, i := range indices {
				outcomes[i] = c.applier.Apply(gctx, intents[i])
			}
			// Conflicts and failures are per-item data, not group errors;
			// returning nil keeps sibling groups running.
			return nil
		})
	}
	_ = g.Wait()

	overall := true
	for _, o := range outcomes {
		if !o.IsCommitted() {
			overall = false
			break
		}
	}

	if c.metrics != nil && len(intents) > 0 {
		c.metrics.RecordBatch(len(intents), overall)
	}

	return cell.BatchOutcome{PerItem: outcomes, OverallSuccess: overall}
}
