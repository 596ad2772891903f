// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shape validates dataset shapes against the structural scope they
// are tagged with and the size of the model they describe.
package shape

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrInvalidScope is returned for a Scope value outside Global, Layer, Neuron.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrLayerDimMismatch is returned when the leading dimension does not
	// equal the number of layers.
	ErrLayerDimMismatch = errors.New("layer dimension mismatch")
	// ErrNeuronDimMismatch is returned when the second dimension of a
	// Neuron-scoped shape does not equal the number of neurons.
	ErrNeuronDimMismatch = errors.New("neuron dimension mismatch")
	// ErrMissingNeuronDims is returned when a Neuron-scoped shape has fewer
	// than two dimensions.
	ErrMissingNeuronDims = errors.New("missing neuron dimensions")
	// ErrInvalidDim is returned for negative dimensions, dimensions that do
	// not fit an uint32, or element counts overflowing int.
	ErrInvalidDim = errors.New("invalid dimension")
)

// ModelSize is the number of layers and neurons per layer of a model.
type ModelSize struct {
	NumLayers  uint32
	NumNeurons uint32
}

// NewModelSize returns a ModelSize if both values are in [1, MaxUint32].
func NewModelSize(numLayers, numNeurons int) (ModelSize, error) {
	if numLayers < 1 || numNeurons < 1 || uint64(numLayers) > math.MaxUint32 || uint64(numNeurons) > math.MaxUint32 {
		return ModelSize{}, fmt.Errorf("model size must be at least 1x1 and fit uint32, got %dx%d", numLayers, numNeurons)
	}
	return ModelSize{NumLayers: uint32(numLayers), NumNeurons: uint32(numNeurons)}, nil
}

// Cells returns NumLayers * NumNeurons.
func (m ModelSize) Cells() int {
	return int(m.NumLayers) * int(m.NumNeurons)
}

func (m ModelSize) String() string {
	return fmt.Sprintf("%dx%d", m.NumLayers, m.NumNeurons)
}

// Error describes a shape rejected by Validate. It unwraps to one of the
// package sentinel errors.
type Error struct {
	Scope    Scope
	Shape    []int
	Expected []int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s shape %v must lead with %v", e.Err, e.Scope, e.Shape, e.Expected)
}

func (e *Error) Unwrap() error { return e.Err }

// Required returns the leading dimensions a shape of the given scope must
// carry for a model of size m.
func Required(scope Scope, m ModelSize) []int {
	switch scope {
	case Layer:
		return []int{int(m.NumLayers)}
	case Neuron:
		return []int{int(m.NumLayers), int(m.NumNeurons)}
	}
	return []int{}
}

// Validate checks that shape carries the leading dimensions required by
// scope for a model of size m. Trailing dimensions are not checked.
func Validate(scope Scope, shape []int, m ModelSize) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	fail := func(err error) error {
		return &Error{Scope: scope, Shape: copyShape(shape), Expected: Required(scope, m), Err: err}
	}
	switch scope {
	case Layer:
		if len(shape) < 1 || shape[0] != int(m.NumLayers) {
			return fail(ErrLayerDimMismatch)
		}
	case Neuron:
		if len(shape) < 2 {
			return fail(ErrMissingNeuronDims)
		}
		if shape[0] != int(m.NumLayers) {
			return fail(ErrLayerDimMismatch)
		}
		if shape[1] != int(m.NumNeurons) {
			return fail(ErrNeuronDimMismatch)
		}
	}
	return nil
}

// Trailing returns the free-form dimensions following the ones required by
// scope. The shape is assumed valid for scope.
func Trailing(scope Scope, shape []int) []int {
	n := scope.Leading()
	if n < 0 || n > len(shape) {
		return nil
	}
	return shape[n:]
}

// NumElements returns the product of all dimensions; an empty shape counts
// as one scalar value. Dimensions must be in [0, MaxUint32] and the product
// must fit an int.
func NumElements(shape []int) (int, error) {
	size := uint(1)
	for i, v := range shape {
		if v < 0 || uint64(v) > math.MaxUint32 {
			return 0, fmt.Errorf("%w: dimension %d has value %d", ErrInvalidDim, i, v)
		}
		var hi uint
		if hi, size = bits.Mul(size, uint(v)); hi != 0 || size > math.MaxInt {
			return 0, fmt.Errorf("%w: int overflow computing elements of shape %v", ErrInvalidDim, shape)
		}
	}
	return int(size), nil
}

// Strides returns the row-major element strides of shape.
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

func copyShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return s
}
