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

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Value is one JSON cell value as observed or written by a client.
//
// # Description
//
// Values are compared by value equality, never identity: two Values are equal
// when their JSON decodes to the same structure, regardless of whitespace or
// key ordering. The zero Value represents an absent cell (a key that has
// never been written); an explicit JSON null is normalized to the zero Value
// so "empty" round-trips consistently through the wire format.
//
// # Thread Safety
//
// Value is immutable after construction and safe to share.
type Value struct {
	raw json.RawMessage
}

// NewValue constructs a Value from raw JSON.
//
// # Inputs
//
//   - raw: JSON-encoded value. nil, empty, and "null" all yield the zero Value.
//
// # Outputs
//
//   - Value: The normalized value.
//   - error: Non-nil if raw is present but not valid JSON, or exceeds
//     MaxValueBytes. Wraps ErrInvalidValue / ErrValueTooLarge.
func NewValue(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Value{}, nil
	}
	if len(trimmed) > MaxValueBytes {
		return Value{}, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(trimmed))
	}
	if !json.Valid(trimmed) {
		return Value{}, fmt.Errorf("%w: %.64q", ErrInvalidValue, trimmed)
	}
	buf := &bytes.Buffer{}
	if err := json.Compact(buf, trimmed); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return Value{raw: json.RawMessage(buf.Bytes())}, nil
}

// ValueOf constructs a Value from any Go value via JSON marshalling.
// Intended for tests and in-process callers; panics on unmarshalable input.
func ValueOf(v any) Value {
	if v == nil {
		return Value{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cell.ValueOf: %v", err))
	}
	val, err := NewValue(raw)
	if err != nil {
		panic(fmt.Sprintf("cell.ValueOf: %v", err))
	}
	return val
}

// IsZero reports whether the value represents an absent cell.
func (v Value) IsZero() bool {
	return len(v.raw) == 0
}

// Raw returns the compacted JSON encoding, or nil for the zero Value.
// The returned slice must not be modified.
func (v Value) Raw() json.RawMessage {
	return v.raw
}

// Equal reports semantic JSON equality with another Value.
//
// # Description
//
// This is the comparison the compare-and-swap guard uses: decode both sides
// and compare structure. Fast path on byte equality of the compacted
// encodings. Absent cells (zero Values) compare equal to each other only.
//
// # Inputs
//
//   - other: The value to compare against.
//
// # Outputs
//
//   - bool: true when both decode to the same JSON structure.
func (v Value) Equal(other Value) bool {
	if v.IsZero() || other.IsZero() {
		return v.IsZero() && other.IsZero()
	}
	if bytes.Equal(v.raw, other.raw) {
		return true
	}
	var a, b any
	if err := json.Unmarshal(v.raw, &a); err != nil {
		return false
	}
	if err := json.Unmarshal(other.raw, &b); err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// String renders the value for logs. Absent cells render as "<absent>".
func (v Value) String() string {
	if v.IsZero() {
		return "<absent>"
	}
	return string(v.raw)
}

// MarshalJSON encodes the value; the zero Value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON decodes and normalizes a value from the wire.
func (v *Value) UnmarshalJSON(data []byte) error {
	val, err := NewValue(data)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
