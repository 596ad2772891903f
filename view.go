// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// ErrIndexOutOfRange is returned when indexing a View or a Dataset beyond
// its bounds.
var ErrIndexOutOfRange = errors.New("index out of range")

// View is a read-only window over a contiguous part of a Dataset.
//
// It contains references to data within the Dataset and is thus cheap to
// create. Its shape is the Dataset shape with some leading dimensions
// already fixed.
type View struct {
	scalarType scalar.Type
	shape      []int
	data       any
}

// At returns the view of the dataset at the given cell, according to its
// scope: Global datasets are returned whole, Layer datasets are sliced at
// layer, Neuron datasets at (layer, neuron).
func (d Dataset) At(layer, neuron int) (View, error) {
	whole := View{scalarType: d.scalarType, shape: d.shape, data: d.data}
	switch d.scope {
	case shape.Layer:
		return whole.Index(layer)
	case shape.Neuron:
		return whole.Index(layer, neuron)
	}
	return whole, nil
}

// View returns the whole dataset as a View.
func (d Dataset) View() View {
	return View{scalarType: d.scalarType, shape: d.shape, data: d.data}
}

// ScalarType returns the element type.
func (v View) ScalarType() scalar.Type { return v.scalarType }

// Shape returns the shape of the view. It must not be modified.
func (v View) Shape() []int { return v.shape }

// Rank returns the number of dimensions of the view.
func (v View) Rank() int { return len(v.shape) }

// Len returns the number of elements of the view.
func (v View) Len() int {
	switch d := v.data.(type) {
	case []string:
		return len(d)
	case []uint32:
		return len(d)
	case []float32:
		return len(d)
	}
	return 0
}

// Index fixes the leading len(idx) dimensions of the view.
func (v View) Index(idx ...int) (View, error) {
	if len(idx) > len(v.shape) {
		return View{}, fmt.Errorf("%w: %d indices for shape %v", ErrIndexOutOfRange, len(idx), v.shape)
	}
	strides := shape.Strides(v.shape)
	offset := 0
	for i, x := range idx {
		if x < 0 || x >= v.shape[i] {
			return View{}, fmt.Errorf("%w: index %d is %d, dimension has size %d", ErrIndexOutOfRange, i, x, v.shape[i])
		}
		offset += x * strides[i]
	}
	rest := v.shape[len(idx):]
	size := 1
	for _, s := range rest {
		size *= s
	}
	return View{
		scalarType: v.scalarType,
		shape:      rest,
		data:       subSlice(v.data, offset, offset+size),
	}, nil
}

func subSlice(data any, begin, end int) any {
	switch d := data.(type) {
	case []string:
		return d[begin:end:end]
	case []uint32:
		return d[begin:end:end]
	case []float32:
		return d[begin:end:end]
	}
	return data
}

// Float32s returns the data of a Float32 view.
func (v View) Float32s() ([]float32, bool) {
	d, ok := v.data.([]float32)
	return d, ok
}

// Uint32s returns the data of an UInt32 view.
func (v View) Uint32s() ([]uint32, bool) {
	d, ok := v.data.([]uint32)
	return d, ok
}

// Strings returns the data of an Utf8String view.
func (v View) Strings() ([]string, bool) {
	d, ok := v.data.([]string)
	return d, ok
}

// Format returns the text representation of the i-th element of the
// flattened view. Floats use the shortest representation that round-trips.
func (v View) Format(i int) string {
	switch d := v.data.(type) {
	case []string:
		return d[i]
	case []uint32:
		return strconv.FormatUint(uint64(d[i]), 10)
	case []float32:
		return strconv.FormatFloat(float64(d[i]), 'g', -1, 32)
	}
	return ""
}
