// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// A Dataset is a named, scoped, homogeneously typed array with data fully
// loaded in memory, stored flat in row-major ("C") order.
//
// The value of ScalarType and the Go type of Data always match each other:
//
//	ScalarType | Data type
//	-----------+----------
//	Utf8String | []string
//	UInt32     | []uint32
//	Float32    | []float32
type Dataset struct {
	key        string
	scalarType scalar.Type
	scope      shape.Scope
	shape      []int
	data       any
}

// NewDataset performs validity checks over the given properties, except the
// scope against a model size, and returns a Dataset holding a private copy
// of shape and data.
//
// Here is an overview of the rules applied:
//   - the key must be valid (see ValidateKey)
//   - scalarType and scope must be valid
//   - the Go type of data must match scalarType (a nil data is an empty slice)
//   - the number of elements must match the product of shape
//   - string elements must be valid UTF-8
func NewDataset(key string, scalarType scalar.Type, scope shape.Scope, shp []int, data any) (Dataset, error) {
	if err := ValidateKey(key); err != nil {
		return Dataset{}, err
	}
	if err := scalarType.Validate(); err != nil {
		return Dataset{}, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	if err := scope.Validate(); err != nil {
		return Dataset{}, err
	}
	data, dataLen, err := cloneTypedData(scalarType, data)
	if err != nil {
		return Dataset{}, err
	}
	size, err := shape.NumElements(shp)
	if err != nil {
		return Dataset{}, err
	}
	if size != dataLen {
		return Dataset{}, fmt.Errorf("%w: shape %v has %d elements, data has %d", ErrLengthMismatch, shp, size, dataLen)
	}
	if strs, ok := data.([]string); ok {
		for i, s := range strs {
			if !utf8.ValidString(s) {
				return Dataset{}, fmt.Errorf("%w: element %d", ErrInvalidString, i)
			}
			if uint64(len(s)) > math.MaxUint32 {
				return Dataset{}, fmt.Errorf("%w: element %d is longer than %d bytes", ErrInvalidString, i, uint32(math.MaxUint32))
			}
		}
	}
	return Dataset{
		key:        key,
		scalarType: scalarType,
		scope:      scope,
		shape:      copyShape(shp),
		data:       data,
	}, nil
}

// ValidateKey reports whether key can name a dataset. Keys are non-empty
// UTF-8 strings, must not start with '@' and must not contain any of the
// template delimiters "{}[]|=,".
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidKey, key)
	case strings.HasPrefix(key, "@"):
		return fmt.Errorf("%w: %q starts with reserved '@'", ErrInvalidKey, key)
	case strings.ContainsAny(key, "{}[]|=,"):
		return fmt.Errorf("%w: %q contains one of \"{}[]|=,\"", ErrInvalidKey, key)
	case strings.TrimSpace(key) != key:
		return fmt.Errorf("%w: %q has leading or trailing spaces", ErrInvalidKey, key)
	}
	return nil
}

func cloneTypedData(st scalar.Type, data any) (any, int, error) {
	switch st {
	case scalar.Utf8String:
		return cloneSlice[string](st, data)
	case scalar.UInt32:
		return cloneSlice[uint32](st, data)
	case scalar.Float32:
		return cloneSlice[float32](st, data)
	}
	return nil, 0, fmt.Errorf("%w: unsupported scalar type %s", ErrTypeMismatch, st)
}

func cloneSlice[T any](st scalar.Type, data any) (any, int, error) {
	if data == nil {
		return []T{}, 0, nil
	}
	y, ok := data.([]T)
	if !ok {
		return nil, 0, fmt.Errorf("%w: expected %s to match data type %T, actual data type %T", ErrTypeMismatch, st, y, data)
	}
	c := make([]T, len(y))
	copy(c, y)
	return c, len(c), nil
}

// Key returns the unique name of the dataset.
func (d Dataset) Key() string { return d.key }

// ScalarType returns the element type of the dataset.
func (d Dataset) ScalarType() scalar.Type { return d.scalarType }

// Scope returns the structural scope of the dataset.
func (d Dataset) Scope() shape.Scope { return d.scope }

// Shape returns a copy of the dataset shape. It is nil for a scalar.
func (d Dataset) Shape() []int { return copyShape(d.shape) }

// Len returns the number of elements.
func (d Dataset) Len() int {
	switch v := d.data.(type) {
	case []string:
		return len(v)
	case []uint32:
		return len(v)
	case []float32:
		return len(v)
	}
	return 0
}

// Float32s returns the data of a Float32 dataset. The returned slice is
// shared and must not be modified.
func (d Dataset) Float32s() ([]float32, bool) {
	v, ok := d.data.([]float32)
	return v, ok
}

// Uint32s returns the data of an UInt32 dataset. The returned slice is
// shared and must not be modified.
func (d Dataset) Uint32s() ([]uint32, bool) {
	v, ok := d.data.([]uint32)
	return v, ok
}

// Strings returns the data of an Utf8String dataset. The returned slice is
// shared and must not be modified.
func (d Dataset) Strings() ([]string, bool) {
	v, ok := d.data.([]string)
	return v, ok
}

// ByteLen returns the size in bytes of the encoded data.
func (d Dataset) ByteLen() uint64 {
	if strs, ok := d.data.([]string); ok {
		n := uint64(0)
		for _, s := range strs {
			n += 4 + uint64(len(s))
		}
		return n
	}
	return uint64(d.Len()) * uint64(d.scalarType.Size())
}

// equal reports whether two datasets hold the same key, tags, shape and
// bitwise-identical data.
func (d Dataset) equal(o Dataset) bool {
	if d.key != o.key || d.scalarType != o.scalarType || d.scope != o.scope || !slices.Equal(d.shape, o.shape) {
		return false
	}
	switch v := d.data.(type) {
	case []string:
		w, ok := o.data.([]string)
		return ok && slices.Equal(v, w)
	case []uint32:
		w, ok := o.data.([]uint32)
		return ok && slices.Equal(v, w)
	case []float32:
		w, ok := o.data.([]float32)
		return ok && slices.EqualFunc(v, w, func(a, b float32) bool {
			return math.Float32bits(a) == math.Float32bits(b)
		})
	}
	return false
}

// WriteTo writes the encoded data to w: little-endian 4-byte elements for
// numeric types, a little-endian uint32 length followed by the UTF-8 bytes
// for each string element.
// It satisfies io.WriterTo interface.
func (d Dataset) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	n, err := d.writeTo(bw)
	if e := bw.Flush(); e != nil && err == nil {
		err = e
	}
	return n, err
}

func (d Dataset) writeTo(w io.Writer) (int64, error) {
	switch v := d.data.(type) {
	case []string:
		return writeStringData(w, v)
	case []uint32:
		return write32bitData(w, v, func(x uint32) uint32 { return x })
	case []float32:
		return write32bitData(w, v, math.Float32bits)
	}
	return 0, fmt.Errorf("invalid or unsupported scalar type: %s", d.scalarType)
}

func write32bitData[T any](w io.Writer, v []T, bits func(T) uint32) (int64, error) {
	var a [4]byte
	b := a[:]

	written := 0
	for _, x := range v {
		u := bits(x)
		a[0] = byte(u)
		a[1] = byte(u >> 8)
		a[2] = byte(u >> 16)
		a[3] = byte(u >> 24)

		n, err := w.Write(b)
		written += n
		if err != nil {
			return int64(written), err
		}
	}
	return int64(written), nil
}

func writeStringData(w io.Writer, v []string) (int64, error) {
	var a [4]byte
	b := a[:]

	written := 0
	for _, s := range v {
		u := uint32(len(s))
		a[0] = byte(u)
		a[1] = byte(u >> 8)
		a[2] = byte(u >> 16)
		a[3] = byte(u >> 24)

		n, err := w.Write(b)
		written += n
		if err != nil {
			return int64(written), err
		}
		n, err = io.WriteString(w, s)
		written += n
		if err != nil {
			return int64(written), err
		}
	}
	return int64(written), nil
}

func copyShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return s
}
