// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// Validate checks whether the content of a Header is consistent, returning
// an error if a problem is encountered, otherwise nil.
//
// The Header is checked against the following rules:
//
//   - Version must be the supported Version
//   - the model size must be at least 1x1
//   - keys must be non-empty and strictly ascending
//   - scalar types and scopes must be valid, and each shape must carry the
//     leading dimensions required by its scope
//   - the DataOffsets of all entries must cover one contiguous area of the
//     data section, in directory order, starting from offset 0
//   - for fixed-width types, End - Begin must coincide with the byte size
//     computed from Shape; string data needs at least 4 bytes per element
//   - the rank section, if present, must refer to a Neuron-scoped Float32
//     entry of shape (NumLayers, NumNeurons) and hold, per layer, two
//     mutually inverse permutations
//   - no overflow must occur during calculations at any step
func (h Header) Validate() error {
	if h.Version != Version {
		return fmt.Errorf("unsupported version %d", h.Version)
	}
	if h.ModelSize.NumLayers < 1 || h.ModelSize.NumNeurons < 1 {
		return fmt.Errorf("invalid model size %s", h.ModelSize)
	}
	if uint64(len(h.Template)) > math.MaxUint32 {
		return fmt.Errorf("template length %d exceeds %d", len(h.Template), uint32(math.MaxUint32))
	}
	if !h.HasTemplate && h.Template != "" {
		return fmt.Errorf("template text set without HasTemplate")
	}
	if err := validateEntries(h.Entries, h.ModelSize); err != nil {
		return err
	}
	if h.Rank != nil {
		if err := validateRank(h, *h.Rank); err != nil {
			return fmt.Errorf("invalid rank section: %w", err)
		}
	}
	return nil
}

func validateEntries(entries []Entry, size shape.ModelSize) error {
	expectedBegin := uint64(0)
	for i, e := range entries {
		if e.Key == "" {
			return fmt.Errorf("entry %d has an empty key", i)
		}
		if len(e.Key) > maxKeyLen {
			return fmt.Errorf("entry %d: key length %d exceeds %d", i, len(e.Key), maxKeyLen)
		}
		if i > 0 && entries[i-1].Key >= e.Key {
			return fmt.Errorf("entry %q is not sorted after %q", e.Key, entries[i-1].Key)
		}
		if err := validateEntry(e, expectedBegin, size); err != nil {
			return fmt.Errorf("invalid entry %q: %w", e.Key, err)
		}
		expectedBegin = e.DataOffsets.End
	}
	return nil
}

func validateEntry(e Entry, expectedBegin uint64, size shape.ModelSize) error {
	if err := e.ScalarType.Validate(); err != nil {
		return err
	}
	if err := shape.Validate(e.Scope, e.Shape, size); err != nil {
		return err
	}
	if e.DataOffsets.Begin != expectedBegin {
		return fmt.Errorf("expected data-offsets begin %d, actual %d", expectedBegin, e.DataOffsets.Begin)
	}
	if e.DataOffsets.End < e.DataOffsets.Begin {
		return fmt.Errorf("expected data-offsets end >= %d (begin), actual %d", e.DataOffsets.Begin, e.DataOffsets.End)
	}

	n, err := shape.NumElements(e.Shape)
	if err != nil {
		return err
	}
	width := uint64(e.ScalarType.Size())
	if e.ScalarType == scalar.Utf8String {
		// length prefix only; the string bytes are checked while decoding
		width = 4
	}
	hi, byteSize := bits.Mul64(uint64(n), width)
	if hi != 0 || byteSize > math.MaxInt64 {
		return fmt.Errorf("int overflow computing byte size from shape %v", e.Shape)
	}
	offSize := e.DataOffsets.Len()
	switch {
	case e.ScalarType.Fixed() && offSize != byteSize:
		return fmt.Errorf("byte size computed from shape (%d) differs from data-offsets size (%d)", byteSize, offSize)
	case !e.ScalarType.Fixed() && offSize < byteSize:
		return fmt.Errorf("data-offsets size (%d) too small for %d strings", offSize, n)
	}
	return nil
}

func validateRank(h Header, r Rank) error {
	e, ok := h.Entry(r.Key)
	if !ok {
		return fmt.Errorf("no entry %q", r.Key)
	}
	numLayers, numNeurons := int(h.ModelSize.NumLayers), int(h.ModelSize.NumNeurons)
	if e.Scope != shape.Neuron || e.ScalarType != scalar.Float32 || !slices.Equal(e.Shape, []int{numLayers, numNeurons}) {
		return fmt.Errorf("entry %q is %s %s %v, expected %s %s %v",
			r.Key, e.Scope, e.ScalarType, e.Shape, shape.Neuron, scalar.Float32, []int{numLayers, numNeurons})
	}
	if len(r.Sorted) != numLayers || len(r.Ranks) != numLayers {
		return fmt.Errorf("expected %d layers, got %d sorted and %d ranks", numLayers, len(r.Sorted), len(r.Ranks))
	}
	for l := range numLayers {
		sorted, ranks := r.Sorted[l], r.Ranks[l]
		if len(sorted) != numNeurons || len(ranks) != numNeurons {
			return fmt.Errorf("layer %d: expected %d neurons", l, numNeurons)
		}
		for rank, n := range sorted {
			if int(n) >= numNeurons || ranks[n] != uint32(rank) {
				return fmt.Errorf("layer %d: ranks are not a permutation inverse to sorted neurons", l)
			}
		}
	}
	return nil
}
