// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package neuronscope stores the internal numeric state of a neural network
// (per-layer and per-neuron datasets, rankings and a page template) in a
// validated, immutable Payload, and serializes it in a compact binary
// container.
//
// A Payload is produced by a Builder. Once built it has no mutation path
// and may be shared between goroutines.
package neuronscope

import (
	"github.com/nlpodyssey/neuronscope/shape"
)

// Payload is the sealed result of a build.
type Payload struct {
	size        shape.ModelSize
	datasets    map[string]Dataset
	keys        []string
	rank        *RankIndex
	template    string
	hasTemplate bool
}

// ModelSize returns the model size all datasets were validated against.
func (p *Payload) ModelSize() shape.ModelSize { return p.size }

// Len returns the number of datasets.
func (p *Payload) Len() int { return len(p.datasets) }

// Keys returns the dataset keys in ascending order. The returned slice is
// shared and must not be modified.
func (p *Payload) Keys() []string { return p.keys }

// Dataset returns a dataset by key, and whether it has been found.
func (p *Payload) Dataset(key string) (Dataset, bool) {
	ds, ok := p.datasets[key]
	return ds, ok
}

// Datasets returns all datasets in key order.
func (p *Payload) Datasets() []Dataset {
	out := make([]Dataset, len(p.keys))
	for i, k := range p.keys {
		out[i] = p.datasets[k]
	}
	return out
}

// RankIndex returns the rank index, or nil if none was requested.
func (p *Payload) RankIndex() *RankIndex { return p.rank }

// Template returns the per-neuron page template and whether one was set.
func (p *Payload) Template() (string, bool) { return p.template, p.hasTemplate }

// Equal reports whether two payloads hold the same model size, template,
// rank index and datasets, comparing float data bitwise.
func (p *Payload) Equal(o *Payload) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.size != o.size || p.hasTemplate != o.hasTemplate || p.template != o.template ||
		len(p.datasets) != len(o.datasets) || !p.rank.equal(o.rank) {
		return false
	}
	for k, ds := range p.datasets {
		ods, ok := o.datasets[k]
		if !ok || !ds.equal(ods) {
			return false
		}
	}
	return true
}
