// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"fmt"
	"slices"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// Builder accumulates datasets, a template and a rank key, validating each
// insertion against the model size, and finally produces a sealed Payload.
//
// A Builder must not be used concurrently. After Build returns, every
// method fails with ErrAlreadyBuilt.
type Builder struct {
	size        shape.ModelSize
	datasets    map[string]Dataset
	template    string
	hasTemplate bool
	rankKey     string
	built       bool
}

// NewBuilder returns an empty Builder for a model with the given number of
// layers and neurons per layer. Both must be at least 1.
func NewBuilder(numLayers, numNeurons int) (*Builder, error) {
	size, err := shape.NewModelSize(numLayers, numNeurons)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModelSize, err)
	}
	return &Builder{
		size:     size,
		datasets: make(map[string]Dataset),
	}, nil
}

// ModelSize returns the model size the builder validates against.
func (b *Builder) ModelSize() shape.ModelSize { return b.size }

// Add validates and inserts a dataset. data must be a []string, []uint32
// or []float32 slice matching scalarType; it is copied.
//
// On failure the store is left unchanged.
func (b *Builder) Add(key string, scalarType scalar.Type, scope shape.Scope, shp []int, data any) error {
	if b.built {
		return ErrAlreadyBuilt
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, ok := b.datasets[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	ds, err := NewDataset(key, scalarType, scope, shp, data)
	if err != nil {
		return fmt.Errorf("failed to add dataset %q: %w", key, err)
	}
	if err = shape.Validate(scope, shp, b.size); err != nil {
		return fmt.Errorf("failed to add dataset %q for model %s: %w", key, b.size, err)
	}
	b.datasets[key] = ds
	return nil
}

// AddFloat32 is a shorthand for Add with scalar.Float32.
func (b *Builder) AddFloat32(key string, scope shape.Scope, shp []int, data []float32) error {
	return b.Add(key, scalar.Float32, scope, shp, data)
}

// AddUint32 is a shorthand for Add with scalar.UInt32.
func (b *Builder) AddUint32(key string, scope shape.Scope, shp []int, data []uint32) error {
	return b.Add(key, scalar.UInt32, scope, shp, data)
}

// AddStrings is a shorthand for Add with scalar.Utf8String.
func (b *Builder) AddStrings(key string, scope shape.Scope, shp []int, data []string) error {
	return b.Add(key, scalar.Utf8String, scope, shp, data)
}

// Has reports whether a dataset with the given key was added.
func (b *Builder) Has(key string) bool {
	_, ok := b.datasets[key]
	return ok && !b.built
}

// Len returns the number of datasets added so far.
func (b *Builder) Len() int {
	if b.built {
		return 0
	}
	return len(b.datasets)
}

// SetTemplate sets the per-neuron page template, replacing any previous
// one. Placeholders are resolved only when the site is generated.
func (b *Builder) SetTemplate(text string) error {
	if b.built {
		return ErrAlreadyBuilt
	}
	b.template = text
	b.hasTemplate = true
	return nil
}

// SetRankKey records the key of the dataset the rank index is computed
// from. The dataset is checked by Build.
func (b *Builder) SetRankKey(key string) error {
	if b.built {
		return ErrAlreadyBuilt
	}
	b.rankKey = key
	return nil
}

// Build computes the rank index, if a rank key was set, and returns the
// sealed Payload. The builder cannot be used afterwards, even if Build
// fails.
func (b *Builder) Build() (*Payload, error) {
	if b.built {
		return nil, ErrAlreadyBuilt
	}
	b.built = true
	datasets := b.datasets
	b.datasets = nil

	p := &Payload{
		size:        b.size,
		datasets:    datasets,
		template:    b.template,
		hasTemplate: b.hasTemplate,
	}
	if b.rankKey != "" {
		ri, err := rankIndexFrom(datasets, b.rankKey, b.size)
		if err != nil {
			return nil, err
		}
		p.rank = &ri
	}
	p.keys = make([]string, 0, len(datasets))
	for k := range datasets {
		p.keys = append(p.keys, k)
	}
	slices.Sort(p.keys)
	return p, nil
}

func rankIndexFrom(datasets map[string]Dataset, key string, size shape.ModelSize) (RankIndex, error) {
	ds, ok := datasets[key]
	if !ok {
		return RankIndex{}, fmt.Errorf("%w: no dataset %q", ErrInvalidRankSource, key)
	}
	if err := checkRankSource(ds, size); err != nil {
		return RankIndex{}, err
	}
	values, _ := ds.Float32s()
	return newRankIndex(key, values, int(size.NumLayers), int(size.NumNeurons)), nil
}

func checkRankSource(ds Dataset, size shape.ModelSize) error {
	want := []int{int(size.NumLayers), int(size.NumNeurons)}
	switch {
	case ds.scope != shape.Neuron:
		return fmt.Errorf("%w: dataset %q has scope %s, expected %s", ErrInvalidRankSource, ds.key, ds.scope, shape.Neuron)
	case ds.scalarType != scalar.Float32:
		return fmt.Errorf("%w: dataset %q has type %s, expected %s", ErrInvalidRankSource, ds.key, ds.scalarType, scalar.Float32)
	case !slices.Equal(ds.shape, want):
		return fmt.Errorf("%w: dataset %q has shape %v, expected %v", ErrInvalidRankSource, ds.key, ds.shape, want)
	}
	return nil
}
