// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cell defines the data model for single-cell updates against the
// shared production-tracking store: addressable cell keys, JSON cell values
// with semantic equality, update intents, and the tagged outcome variants
// produced by the compare-and-swap guard.
//
// # Description
//
// Every editable value in the tracker (a shot's title, an asset's status, a
// task's assignee) is addressed by a Key of collection, entity, and field.
// Clients submit UpdateIntents carrying the value they last observed; the
// guard turns each intent into exactly one UpdateOutcome: Committed,
// Conflicted, or Failed.
//
// # Thread Safety
//
// All types in this package are immutable value types once constructed and
// are safe to share across goroutines.
package cell

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxKeyPartBytes is the maximum length of a single key component.
	// Keeps store keys and lock-table entries bounded.
	MaxKeyPartBytes = 128

	// MaxValueBytes is the maximum serialized size of a single cell value.
	// Spreadsheet cells are small; anything larger is a caller error.
	MaxValueBytes = 64 * 1024 // 64KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// keyValidate is the validator instance for cell keys.
// Initialized in init() with custom validators.
var keyValidate *validator.Validate

func init() {
	keyValidate = validator.New()

	// Key components become path segments in store keys and URLs.
	_ = keyValidate.RegisterValidation("keypart", validateKeyPart)
}

// validateKeyPart rejects key components that cannot serve as path segments.
//
// # Description
//
// Components are embedded in store keys ("cell/<collection>/<entity>/<field>")
// and in REST paths, so separators and control characters are forbidden.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if the component is a safe path segment
func validateKeyPart(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) > MaxKeyPartBytes {
		return false
	}
	for _, r := range s {
		if r == '/' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// =============================================================================
// Key
// =============================================================================

// Key uniquely addresses one editable value in the tracking store.
//
// # Description
//
// A Key is the triple (collection, entity, field): for example
// (Shots, shot_0042, title). Keys are immutable once constructed and are the
// unit of serialization for the compare-and-swap guard: concurrent updates to
// the same Key are totally ordered, updates to different Keys are not.
//
// # Fields
//
//   - Collection: Entity collection name (e.g., "Shots", "Assets", "Tasks").
//   - EntityID: Identifier of the entity within the collection.
//   - FieldID: Identifier of the edited field/column.
type Key struct {
	Collection string `json:"collection" validate:"required,keypart"`
	EntityID   string `json:"entity_id"  validate:"required,keypart"`
	FieldID    string `json:"field_id"   validate:"required,keypart"`
}

// NewKey constructs and validates a cell Key.
//
// # Inputs
//
//   - collection: Collection name. Must be a non-empty safe path segment.
//   - entityID: Entity identifier. Same constraints.
//   - fieldID: Field identifier. Same constraints.
//
// # Outputs
//
//   - Key: The validated key.
//   - error: Non-nil if any component is empty, oversized, or contains
//     separator/control characters. Wraps ErrInvalidKey.
func NewKey(collection, entityID, fieldID string) (Key, error) {
	k := Key{Collection: collection, EntityID: entityID, FieldID: fieldID}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks the key components against the shared validator.
//
// # Outputs
//
//   - error: Non-nil if the key is malformed. Wraps ErrInvalidKey so callers
//     can map it to a 400 response with errors.Is.
func (k Key) Validate() error {
	if err := keyValidate.Struct(k); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// String renders the key as "collection/entity/field".
func (k Key) String() string {
	return k.Collection + "/" + k.EntityID + "/" + k.FieldID
}

// ParseKey parses a "collection/entity/field" string back into a Key.
//
// # Inputs
//
//   - s: Key string as produced by Key.String().
//
// # Outputs
//
//   - Key: The parsed, validated key.
//   - error: Non-nil if the string does not have exactly three components
//     or any component fails validation.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: expected collection/entity/field, got %q", ErrInvalidKey, s)
	}
	return NewKey(parts[0], parts[1], parts[2])
}
