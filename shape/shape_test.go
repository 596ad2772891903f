// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shape

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelSize(t *testing.T) {
	m, err := NewModelSize(8, 2048)
	require.NoError(t, err)
	assert.Equal(t, ModelSize{NumLayers: 8, NumNeurons: 2048}, m)
	assert.Equal(t, 8*2048, m.Cells())
	assert.Equal(t, "8x2048", m.String())

	for _, tc := range [][2]int{{0, 1}, {1, 0}, {-1, 3}, {math.MaxUint32 + 1, 1}} {
		_, err := NewModelSize(tc[0], tc[1])
		assert.Error(t, err, tc)
	}
}

func TestValidate_Success(t *testing.T) {
	m := ModelSize{NumLayers: 2, NumNeurons: 3}
	testCases := []struct {
		name  string
		scope Scope
		shape []int
	}{
		{"global scalar", Global, nil},
		{"global any", Global, []int{7, 1, 9}},
		{"layer exact", Layer, []int{2}},
		{"layer trailing", Layer, []int{2, 8, 8}},
		{"neuron exact", Neuron, []int{2, 3}},
		{"neuron trailing", Neuron, []int{2, 3, 50, 59}},
		{"neuron zero trailing", Neuron, []int{2, 3, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, Validate(tc.scope, tc.shape, m))
		})
	}
}

func TestValidate_Failure(t *testing.T) {
	m := ModelSize{NumLayers: 2, NumNeurons: 3}
	testCases := []struct {
		name  string
		scope Scope
		shape []int
		want  error
	}{
		{"layer empty", Layer, nil, ErrLayerDimMismatch},
		{"layer wrong", Layer, []int{3}, ErrLayerDimMismatch},
		{"neuron empty", Neuron, nil, ErrMissingNeuronDims},
		{"neuron one dim", Neuron, []int{2}, ErrMissingNeuronDims},
		{"neuron wrong layers", Neuron, []int{3, 3}, ErrLayerDimMismatch},
		{"neuron wrong neurons", Neuron, []int{2, 4}, ErrNeuronDimMismatch},
		{"neuron swapped", Neuron, []int{3, 2, 5}, ErrLayerDimMismatch},
		{"invalid scope", Scope(0), []int{2, 3}, ErrInvalidScope},
		{"invalid scope high", Scope(4), nil, ErrInvalidScope},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.scope, tc.shape, m)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidate_ErrorContext(t *testing.T) {
	err := Validate(Layer, []int{3}, ModelSize{NumLayers: 2, NumNeurons: 3})
	var shapeErr *Error
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, Layer, shapeErr.Scope)
	assert.Equal(t, []int{3}, shapeErr.Shape)
	assert.Equal(t, []int{2}, shapeErr.Expected)
	assert.EqualError(t, err, "layer dimension mismatch: layer shape [3] must lead with [2]")
}

// The validator accepts a shape iff the documented leading-dimension rule
// holds, over a small exhaustive grid.
func TestValidate_Exhaustive(t *testing.T) {
	m := ModelSize{NumLayers: 2, NumNeurons: 3}
	var shapes [][]int
	shapes = append(shapes, nil)
	for a := 0; a <= 4; a++ {
		shapes = append(shapes, []int{a})
		for b := 0; b <= 4; b++ {
			shapes = append(shapes, []int{a, b}, []int{a, b, 2})
		}
	}
	for _, s := range shapes {
		for _, scope := range []Scope{Global, Layer, Neuron} {
			var want bool
			switch scope {
			case Global:
				want = true
			case Layer:
				want = len(s) >= 1 && s[0] == 2
			case Neuron:
				want = len(s) >= 2 && s[0] == 2 && s[1] == 3
			}
			err := Validate(scope, s, m)
			assert.Equal(t, want, err == nil, "%s %v: %v", scope, s, err)
		}
	}
}

func TestTrailing(t *testing.T) {
	assert.Equal(t, []int{8, 8}, Trailing(Neuron, []int{2, 3, 8, 8}))
	assert.Equal(t, []int{5}, Trailing(Layer, []int{2, 5}))
	assert.Equal(t, []int{4}, Trailing(Global, []int{4}))
	assert.Empty(t, Trailing(Neuron, []int{2, 3}))
	assert.Nil(t, Trailing(Scope(9), []int{1}))
}

func TestNumElements(t *testing.T) {
	testCases := []struct {
		shape []int
		want  int
	}{
		{nil, 1},
		{[]int{}, 1},
		{[]int{0}, 0},
		{[]int{2, 3}, 6},
		{[]int{2, 3, 8, 8}, 384},
	}
	for _, tc := range testCases {
		n, err := NumElements(tc.shape)
		assert.NoError(t, err, tc.shape)
		assert.Equal(t, tc.want, n, tc.shape)
	}

	for _, s := range [][]int{{-1}, {math.MaxUint32 + 1}, {math.MaxUint32, math.MaxUint32, math.MaxUint32}} {
		_, err := NumElements(s)
		assert.ErrorIs(t, err, ErrInvalidDim, s)
	}
}

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Strides([]int{2, 3, 4}))
	assert.Equal(t, []int{}, Strides(nil))
}

func TestScope_Text(t *testing.T) {
	for _, s := range []Scope{Global, Layer, Neuron} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got Scope
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
		assert.Equal(t, string(b), s.String())
	}
	var s Scope
	assert.ErrorIs(t, s.UnmarshalText([]byte("cell")), ErrInvalidScope)
	assert.Equal(t, "Scope(7)", Scope(7).String())
	assert.Equal(t, -1, Scope(7).Leading())
}
