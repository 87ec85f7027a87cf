// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the cell store adapter: the single-value read/write
// surface that stands in for the spreadsheet backend.
//
// # Description
//
// The backing store offers plain read and write of one value per key and
// nothing else — no transactions, no native compare-and-swap. The guard
// layers per-key serialization on top; this package deliberately stays a
// dumb read/write adapter so the CAS semantics live in exactly one place.
package store

import (
	"context"
	"errors"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// Sentinel errors for store implementations.
var (
	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("cell store is closed")
)

// CellStore reads and writes single cell values.
//
// # Description
//
// The contract the guard depends on:
//   - Read returns the current value for a key. A key that has never been
//     written yields the zero cell.Value and a nil error.
//   - Write replaces the value for a key and acks only after the write is
//     durable (for persistent implementations).
//
// Implementations need not provide any atomicity between a Read and a
// subsequent Write; the guard serializes per key above this interface.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CellStore interface {
	// Read returns the stored value for key, or the zero Value if absent.
	Read(ctx context.Context, key cell.Key) (cell.Value, error)

	// Write stores value under key, replacing any prior value.
	Write(ctx context.Context, key cell.Key, value cell.Value) error

	// Close releases underlying resources.
	Close() error
}
