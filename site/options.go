// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"runtime"

	"go.uber.org/zap"
)

// DefaultTitle is the site title used when none is given.
const DefaultTitle = "Neuronscope"

// DefaultHeatmapScale multiplies Float32 grid values before they are mapped
// to heatmap colors.
const DefaultHeatmapScale = 10

// Option configures Generate and NewRenderer.
type Option func(*options)

type options struct {
	workers          int
	logger           *zap.Logger
	title            string
	indexTemplate    string
	hasIndexTemplate bool
	heatmapScale     float32
	overwrite        bool
}

func newOptions(opts []Option) options {
	o := options{
		workers:      runtime.GOMAXPROCS(0),
		logger:       zap.NewNop(),
		title:        DefaultTitle,
		heatmapScale: DefaultHeatmapScale,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithWorkers sets the maximum number of pages rendered in parallel.
// Values lower than 1 select runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		o.workers = n
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.logger = l
	}
}

// WithTitle sets the site title, shown on every page and available to
// templates as {{@title}}.
func WithTitle(title string) Option {
	return func(o *options) { o.title = title }
}

// WithIndexTemplate sets a template rendered at the top of the index page.
// Only Global datasets and {{@title}} can be referenced.
func WithIndexTemplate(text string) Option {
	return func(o *options) {
		o.indexTemplate = text
		o.hasIndexTemplate = true
	}
}

// WithHeatmapScale sets the factor applied to Float32 grid values before
// color mapping. Colors saturate at a scaled magnitude of 1.
func WithHeatmapScale(scale float32) Option {
	return func(o *options) { o.heatmapScale = scale }
}

// WithOverwrite lets Generate replace an existing directory even if it
// does not hold a generated site.
func WithOverwrite() Option {
	return func(o *options) { o.overwrite = true }
}
