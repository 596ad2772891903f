// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"cmp"
	"math"
	"slices"
)

// RankIndex orders the neurons of each layer by the values of one
// Neuron-scoped Float32 dataset of shape (NumLayers, NumNeurons).
//
// Within a layer, neurons are sorted by descending value; ties are broken
// by ascending neuron index and NaN values sort last.
type RankIndex struct {
	key string
	// sorted[l][r] is the neuron at rank r in layer l.
	sorted [][]uint32
	// ranks[l][n] is the rank of neuron n in layer l.
	ranks [][]uint32
}

func newRankIndex(key string, values []float32, numLayers, numNeurons int) RankIndex {
	ri := RankIndex{
		key:    key,
		sorted: make([][]uint32, numLayers),
		ranks:  make([][]uint32, numLayers),
	}
	for l := range numLayers {
		layer := values[l*numNeurons : (l+1)*numNeurons]
		sorted := make([]uint32, numNeurons)
		for n := range sorted {
			sorted[n] = uint32(n)
		}
		slices.SortFunc(sorted, func(a, b uint32) int {
			return compareDescending(layer[a], layer[b], a, b)
		})
		ranks := make([]uint32, numNeurons)
		for r, n := range sorted {
			ranks[n] = uint32(r)
		}
		ri.sorted[l] = sorted
		ri.ranks[l] = ranks
	}
	return ri
}

func compareDescending(va, vb float32, a, b uint32) int {
	aNaN, bNaN := math.IsNaN(float64(va)), math.IsNaN(float64(vb))
	switch {
	case aNaN && !bNaN:
		return 1
	case bNaN && !aNaN:
		return -1
	case !aNaN && va != vb:
		return cmp.Compare(vb, va)
	}
	return cmp.Compare(a, b)
}

// Key returns the key of the dataset the index was computed from.
func (ri *RankIndex) Key() string { return ri.key }

// NumLayers returns the number of layers covered by the index.
func (ri *RankIndex) NumLayers() int { return len(ri.sorted) }

// SortedNeurons returns the neurons of a layer from rank 0 onwards.
// The returned slice is shared and must not be modified.
func (ri *RankIndex) SortedNeurons(layer int) []uint32 { return ri.sorted[layer] }

// Ranks returns, for each neuron of a layer, its rank.
// The returned slice is shared and must not be modified.
func (ri *RankIndex) Ranks(layer int) []uint32 { return ri.ranks[layer] }

// Rank returns the rank of a neuron within its layer.
func (ri *RankIndex) Rank(layer, neuron int) uint32 { return ri.ranks[layer][neuron] }

func (ri *RankIndex) equal(o *RankIndex) bool {
	if ri == nil || o == nil {
		return ri == o
	}
	if ri.key != o.key || len(ri.sorted) != len(o.sorted) {
		return false
	}
	for l := range ri.sorted {
		if !slices.Equal(ri.sorted[l], o.sorted[l]) || !slices.Equal(ri.ranks[l], o.ranks[l]) {
			return false
		}
	}
	return true
}
