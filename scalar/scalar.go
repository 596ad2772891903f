// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scalar

import (
	"fmt"
)

// Type identifies the homogeneous element type of a dataset.
type Type uint8

const (
	// Utf8String represents variable-width UTF-8 text elements.
	Utf8String Type = iota + 1
	// UInt32 represents 32-bit unsigned integer elements.
	UInt32
	// Float32 represents 32-bit floating point elements.
	Float32
)

var (
	typeToString = [...]string{
		Utf8String: "STR",
		UInt32:     "U32",
		Float32:    "F32",
	}
	typeToSize = [...]int{
		Utf8String: 0,
		UInt32:     4,
		Float32:    4,
	}
)

// Validate returns an error if the Type is not valid, otherwise nil.
func (t Type) Validate() error {
	if t == 0 || t > Float32 {
		return fmt.Errorf("invalid scalar type(%d)", t)
	}
	return nil
}

// String returns a string representation of a Type.
func (t Type) String() string {
	if err := t.Validate(); err != nil {
		return err.Error()
	}
	return typeToString[t]
}

// Size returns the size in bytes of one element of this type.
// Variable-width types (Utf8String) report 0, invalid types report -1.
func (t Type) Size() int {
	if err := t.Validate(); err != nil {
		return -1
	}
	return typeToSize[t]
}

// Fixed reports whether every element of this type has the same encoded size.
func (t Type) Fixed() bool {
	return t.Size() > 0
}

// MarshalText satisfies encoding.TextMarshaler interface.
func (t Type) MarshalText() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return []byte(typeToString[t]), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler interface.
// Besides the canonical names, a few common aliases are accepted.
func (t *Type) UnmarshalText(text []byte) error {
	switch string(text) {
	case "STR", "str", "string":
		*t = Utf8String
	case "U32", "u32", "uint32":
		*t = UInt32
	case "F32", "f32", "float32":
		*t = Float32
	default:
		return fmt.Errorf("failed to text-unmarshal scalar type from value %q", text)
	}
	return nil
}
