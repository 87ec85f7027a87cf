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

import "errors"

// Sentinel errors for the cell data model.
var (
	// ErrInvalidKey indicates a malformed cell key (empty, oversized, or
	// unsafe component). Rejected before reaching the guard.
	ErrInvalidKey = errors.New("invalid cell key")

	// ErrValueTooLarge indicates a cell value exceeding MaxValueBytes.
	ErrValueTooLarge = errors.New("cell value exceeds size limit")

	// ErrInvalidValue indicates a cell value that is not valid JSON.
	ErrInvalidValue = errors.New("cell value is not valid JSON")
)
