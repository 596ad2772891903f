// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRecipe is returned when a recipe is malformed.
var ErrInvalidRecipe = errors.New("invalid recipe")

// Recipe describes how to assemble a payload from a safetensors file and
// inline values. Relative paths are resolved against the directory of the
// recipe file.
type Recipe struct {
	NumLayers  int             `yaml:"num_layers"`
	NumNeurons int             `yaml:"num_neurons"`
	Tensors    string          `yaml:"tensors,omitempty"`
	Template   string          `yaml:"template,omitempty"`
	RankKey    string          `yaml:"rank_key,omitempty"`
	Datasets   []DatasetRecipe `yaml:"datasets"`
}

// DatasetRecipe describes a single dataset. Its values come either from a
// tensor or from exactly one of the inline lists.
type DatasetRecipe struct {
	Key   string      `yaml:"key"`
	Scope shape.Scope `yaml:"scope"`
	// Tensor names the source tensor. It defaults to Key when no inline
	// values are given.
	Tensor string `yaml:"tensor,omitempty"`
	// Type is optional for tensors; it must agree with the tensor dtype.
	Type scalar.Type `yaml:"type,omitempty"`
	// Shape overrides the tensor shape, keeping its element count. For
	// inline values it defaults to a single dimension.
	Shape   []int     `yaml:"shape,omitempty"`
	Strings []string  `yaml:"strings,omitempty"`
	Floats  []float32 `yaml:"floats,omitempty"`
	Uints   []uint32  `yaml:"uints,omitempty"`
}

// ParseRecipe decodes a YAML recipe from r. Unknown fields are rejected.
func ParseRecipe(r io.Reader) (Recipe, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var rc Recipe
	if err := dec.Decode(&rc); err != nil {
		return Recipe{}, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	if err := rc.Validate(); err != nil {
		return Recipe{}, err
	}
	return rc, nil
}

// LoadRecipe reads and decodes the recipe file at path.
func LoadRecipe(path string) (Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return Recipe{}, err
	}
	defer f.Close()
	rc, err := ParseRecipe(f)
	if err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	return rc, nil
}

// Validate checks the recipe structure. Dataset contents are validated
// later, when the payload is built.
func (rc Recipe) Validate() error {
	if len(rc.Datasets) == 0 {
		return fmt.Errorf("%w: no datasets", ErrInvalidRecipe)
	}
	for i, d := range rc.Datasets {
		if err := d.validate(); err != nil {
			return fmt.Errorf("%w: dataset %d (%q): %w", ErrInvalidRecipe, i, d.Key, err)
		}
		if d.source() == sourceTensor && rc.Tensors == "" {
			return fmt.Errorf("%w: dataset %d (%q) reads a tensor but no tensors file is set", ErrInvalidRecipe, i, d.Key)
		}
	}
	return nil
}

type source uint8

const (
	sourceTensor source = iota + 1
	sourceStrings
	sourceFloats
	sourceUints
)

func (d DatasetRecipe) source() source {
	switch {
	case d.Strings != nil:
		return sourceStrings
	case d.Floats != nil:
		return sourceFloats
	case d.Uints != nil:
		return sourceUints
	}
	return sourceTensor
}

func (d DatasetRecipe) validate() error {
	if d.Key == "" {
		return errors.New("missing key")
	}
	if err := d.Scope.Validate(); err != nil {
		return err
	}
	inline := 0
	for _, set := range []bool{d.Strings != nil, d.Floats != nil, d.Uints != nil} {
		if set {
			inline++
		}
	}
	if inline > 1 {
		return errors.New("more than one inline value list")
	}
	if inline == 1 && d.Tensor != "" {
		return errors.New("both tensor and inline values")
	}
	if d.Type != 0 {
		if err := d.Type.Validate(); err != nil {
			return err
		}
	}
	want := map[source]scalar.Type{
		sourceStrings: scalar.Utf8String,
		sourceFloats:  scalar.Float32,
		sourceUints:   scalar.UInt32,
	}[d.source()]
	if want != 0 && d.Type != 0 && d.Type != want {
		return fmt.Errorf("type %s does not match %s inline values", d.Type, want)
	}
	if d.source() == sourceTensor && d.Type == scalar.Utf8String {
		return errors.New("tensors cannot provide STR values")
	}
	return nil
}
