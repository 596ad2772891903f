// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ingest

import (
	"fmt"

	"github.com/nlpodyssey/neuronscope/scalar"
)

// DType represents a safetensors data type.
type DType uint8

const (
	// Bool represents an 8-bit boolean data type.
	Bool DType = iota + 1
	// U8 represents an 8-bit unsigned integer data type.
	U8
	// I8 represents an 8-bit signed integer data type.
	I8
	// U16 represents a 16-bit unsigned integer data type.
	U16
	// I16 represents a 16-bit signed integer data type.
	I16
	// F16 represents a 16-bit half-precision floating point data type.
	F16
	// BF16 represents a 16-bit brain floating point data type.
	BF16
	// U32 represents a 32-bit unsigned integer data type.
	U32
	// I32 represents a 32-bit signed integer data type.
	I32
	// F32 represents a 32-bit floating point data type.
	F32
	// U64 represents a 64-bit unsigned integer data type.
	U64
	// I64 represents a 64-bit signed integer data type.
	I64
	// F64 represents a 64-bit floating point data type.
	F64
)

var dTypes = [...]struct {
	name string
	size int
}{
	Bool: {"BOOL", 1},
	U8:   {"U8", 1},
	I8:   {"I8", 1},
	U16:  {"U16", 2},
	I16:  {"I16", 2},
	F16:  {"F16", 2},
	BF16: {"BF16", 2},
	U32:  {"U32", 4},
	I32:  {"I32", 4},
	F32:  {"F32", 4},
	U64:  {"U64", 8},
	I64:  {"I64", 8},
	F64:  {"F64", 8},
}

// ParseDType returns the DType with the given safetensors name.
func ParseDType(s string) (DType, error) {
	for dt := Bool; dt <= F64; dt++ {
		if dTypes[dt].name == s {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown safetensors dtype %q", s)
}

// String returns the safetensors name of the DType.
func (dt DType) String() string {
	if dt.valid() {
		return dTypes[dt].name
	}
	return fmt.Sprintf("DType(%d)", dt)
}

// Size returns the size in bytes of one element.
func (dt DType) Size() int {
	if dt.valid() {
		return dTypes[dt].size
	}
	return 0
}

// ScalarType returns the payload scalar type tensors of this DType are
// converted to: Float32 for floating point types, UInt32 otherwise.
func (dt DType) ScalarType() scalar.Type {
	switch dt {
	case F16, BF16, F32, F64:
		return scalar.Float32
	}
	return scalar.UInt32
}

func (dt DType) valid() bool {
	return dt >= Bool && dt <= F64
}
