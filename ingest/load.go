// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ingest assembles payloads from YAML recipes and safetensors
// files.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/scalar"
	"go.uber.org/zap"
)

// Option configures Load and Build.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used to report progress. A nil logger
// disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.logger = l
	}
}

// Load reads the recipe at path and builds the payload it describes.
func Load(path string, opts ...Option) (*neuronscope.Payload, error) {
	rc, err := LoadRecipe(path)
	if err != nil {
		return nil, err
	}
	return Build(rc, filepath.Dir(path), opts...)
}

// Build assembles the payload described by rc, resolving relative paths
// against dir.
func Build(rc Recipe, dir string, opts ...Option) (*neuronscope.Payload, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}

	b, err := neuronscope.NewBuilder(rc.NumLayers, rc.NumNeurons)
	if err != nil {
		return nil, err
	}

	var tf *TensorFile
	if rc.Tensors != "" {
		f, err := os.Open(resolve(dir, rc.Tensors))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if tf, err = NewTensorFile(f, fi.Size()); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		o.logger.Debug("tensors file opened",
			zap.String("path", f.Name()),
			zap.Int("tensors", len(tf.tensors)))
	}

	for _, d := range rc.Datasets {
		if err := addDataset(b, tf, d); err != nil {
			return nil, err
		}
		o.logger.Debug("dataset added",
			zap.String("key", d.Key),
			zap.Stringer("scope", d.Scope))
	}

	if rc.Template != "" {
		text, err := os.ReadFile(resolve(dir, rc.Template))
		if err != nil {
			return nil, err
		}
		if err := b.SetTemplate(string(text)); err != nil {
			return nil, err
		}
	}
	if rc.RankKey != "" {
		if err := b.SetRankKey(rc.RankKey); err != nil {
			return nil, err
		}
	}

	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	o.logger.Info("payload built",
		zap.Int("datasets", p.Len()),
		zap.Uint32("layers", p.ModelSize().NumLayers),
		zap.Uint32("neurons", p.ModelSize().NumNeurons))
	return p, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func addDataset(b *neuronscope.Builder, tf *TensorFile, d DatasetRecipe) error {
	switch d.source() {
	case sourceStrings:
		return b.AddStrings(d.Key, d.Scope, inlineShape(d.Shape, len(d.Strings)), d.Strings)
	case sourceFloats:
		return b.AddFloat32(d.Key, d.Scope, inlineShape(d.Shape, len(d.Floats)), d.Floats)
	case sourceUints:
		return b.AddUint32(d.Key, d.Scope, inlineShape(d.Shape, len(d.Uints)), d.Uints)
	}

	name := d.Tensor
	if name == "" {
		name = d.Key
	}
	t, ok := tf.Tensor(name)
	if !ok {
		return fmt.Errorf("dataset %q: %w: %q", d.Key, ErrUnknownTensor, name)
	}
	shp := t.Shape
	if d.Shape != nil {
		shp = d.Shape
	}

	st := t.DType.ScalarType()
	if d.Type != 0 && d.Type != st {
		return fmt.Errorf("dataset %q: tensor %q of dtype %s cannot provide %s values", d.Key, name, t.DType, d.Type)
	}
	var data any
	var err error
	if st == scalar.Float32 {
		data, err = tf.Float32s(name)
	} else {
		data, err = tf.Uint32s(name)
	}
	if err != nil {
		return fmt.Errorf("dataset %q: %w", d.Key, err)
	}
	return b.Add(d.Key, st, d.Scope, shp, data)
}

func inlineShape(shp []int, n int) []int {
	if shp != nil {
		return shp
	}
	return []int{n}
}
