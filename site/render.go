// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"fmt"
	"html"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// cell identifies the page a template is rendered for. The index page is
// rendered in a global cell, where only Global datasets resolve.
type cell struct {
	global        bool
	layer, neuron int
}

var globalCell = cell{global: true}

// resolved is the data a placeholder refers to in a given cell.
type resolved struct {
	value  neuronscope.View
	labels *neuronscope.View
}

// resolve looks up a dataset placeholder. Resolution only depends on the
// scopes and shapes of the datasets, so a placeholder that resolves in one
// cell resolves in every cell of the same kind.
func (r *Renderer) resolve(ph *placeholder, c cell) (resolved, error) {
	v, err := r.lookup(ph, ph.key, c)
	if err != nil {
		return resolved{}, err
	}
	if len(ph.indices) > v.Rank() {
		return resolved{}, ph.errorf(ErrBadPlaceholder, "%d indices for %d free dimensions %v", len(ph.indices), v.Rank(), v.Shape())
	}
	if v, err = v.Index(ph.indices...); err != nil {
		return resolved{}, ph.errorf(err, "indexing %v", ph.indices)
	}
	if v.Rank() > 2 {
		return resolved{}, ph.errorf(ErrTooManyDims, "%q resolves to shape %v, at most 2 dimensions can be rendered", ph.key, v.Shape())
	}
	res := resolved{value: v}
	if ph.labels == "" {
		return res, nil
	}

	lv, err := r.lookup(ph, ph.labels, c)
	if err != nil {
		return resolved{}, err
	}
	if lv.ScalarType() != scalar.Utf8String {
		return resolved{}, ph.errorf(ErrLabelShapeMismatch, "labels %q must be %s, actual %s", ph.labels, scalar.Utf8String, lv.ScalarType())
	}
	if !slices.Equal(lv.Shape(), v.Shape()) {
		return resolved{}, ph.errorf(ErrLabelShapeMismatch, "labels %q have shape %v, values have shape %v", ph.labels, lv.Shape(), v.Shape())
	}
	res.labels = &lv
	return res, nil
}

func (r *Renderer) lookup(ph *placeholder, key string, c cell) (neuronscope.View, error) {
	ds, ok := r.payload.Dataset(key)
	if !ok {
		if s, ok := r.suggest(key); ok {
			return neuronscope.View{}, ph.errorf(ErrUnresolvedPlaceholder, "no dataset %q, did you mean %q?", key, s)
		}
		return neuronscope.View{}, ph.errorf(ErrUnresolvedPlaceholder, "no dataset %q", key)
	}
	if c.global && ds.Scope() != shape.Global {
		return neuronscope.View{}, ph.errorf(ErrScopeMismatch, "dataset %q has scope %s, only %s datasets are available", key, ds.Scope(), shape.Global)
	}
	v, err := ds.At(c.layer, c.neuron)
	if err != nil {
		return neuronscope.View{}, ph.errorf(err, "dataset %q", key)
	}
	return v, nil
}

// suggest returns the dataset key closest to key, by edit distance.
// Ties go to the first key in ascending order.
func (r *Renderer) suggest(key string) (string, bool) {
	best, score := "", math.MaxInt
	for _, k := range r.payload.Keys() {
		if d := levenshtein.ComputeDistance(key, k); d < score {
			best, score = k, d
		}
	}
	if best == "" || score > max(len(key), len(best))/2+1 {
		return "", false
	}
	return best, true
}

// check resolves every placeholder of t once, so that rendering t in any
// cell of the same kind cannot fail.
func (r *Renderer) check(t *pageTemplate, c cell) error {
	for _, ph := range t.placeholders() {
		if ph.builtin != "" {
			if c.global && ph.builtin != builtinTitle {
				return ph.errorf(ErrScopeMismatch, "built-in %s is only available on neuron pages", ph.builtin)
			}
			continue
		}
		if _, err := r.resolve(ph, c); err != nil {
			return err
		}
	}
	return nil
}

// render writes the template text, with placeholders replaced, to sb.
func (r *Renderer) render(sb *strings.Builder, t *pageTemplate, c cell) error {
	for _, s := range t.segments {
		if s.ph == nil {
			sb.WriteString(s.text)
			continue
		}
		if s.ph.builtin != "" {
			sb.WriteString(html.EscapeString(r.builtin(s.ph.builtin, c)))
			continue
		}
		res, err := r.resolve(s.ph, c)
		if err != nil {
			return err
		}
		r.renderValue(sb, res)
	}
	return nil
}

func (r *Renderer) builtin(name string, c cell) string {
	switch name {
	case builtinLayer:
		return strconv.Itoa(c.layer)
	case builtinNeuron:
		return strconv.Itoa(c.neuron)
	case builtinRank:
		if ri := r.payload.RankIndex(); ri != nil {
			return strconv.FormatUint(uint64(ri.Rank(c.layer, c.neuron)), 10)
		}
		return ""
	case builtinTitle:
		return r.opts.title
	}
	return ""
}

func (r *Renderer) renderValue(sb *strings.Builder, res resolved) {
	v := res.value
	switch v.Rank() {
	case 0:
		writeLabel(sb, res.labels, 0)
		sb.WriteString(html.EscapeString(v.Format(0)))
	case 1:
		sb.WriteString(`<table class="ns-row">`)
		if res.labels != nil {
			sb.WriteString("<tr>")
			for i := range v.Len() {
				sb.WriteString("<th>")
				sb.WriteString(html.EscapeString(res.labels.Format(i)))
				sb.WriteString("</th>")
			}
			sb.WriteString("</tr>")
		}
		sb.WriteString("<tr>")
		for i := range v.Len() {
			sb.WriteString("<td>")
			sb.WriteString(html.EscapeString(v.Format(i)))
			sb.WriteString("</td>")
		}
		sb.WriteString("</tr></table>")
	case 2:
		r.renderGrid(sb, res)
	}
}

func (r *Renderer) renderGrid(sb *strings.Builder, res resolved) {
	v := res.value
	rows, cols := v.Shape()[0], v.Shape()[1]
	floats, heatmap := v.Float32s()
	if heatmap {
		sb.WriteString(`<table class="ns-grid ns-heatmap">`)
	} else {
		sb.WriteString(`<table class="ns-grid">`)
	}
	for row := range rows {
		sb.WriteString("<tr>")
		for col := range cols {
			i := row*cols + col
			if !heatmap {
				sb.WriteString("<td>")
				writeLabel(sb, res.labels, i)
				sb.WriteString(html.EscapeString(v.Format(i)))
				sb.WriteString("</td>")
				continue
			}
			rgb := heatmapColor(floats[i] * r.opts.heatmapScale)
			fmt.Fprintf(sb, `<td style="background-color: rgb(%d, %d, %d)" title="%s">`, rgb[0], rgb[1], rgb[2], html.EscapeString(v.Format(i)))
			if res.labels != nil {
				sb.WriteString(html.EscapeString(res.labels.Format(i)))
			} else {
				sb.WriteString(html.EscapeString(v.Format(i)))
			}
			sb.WriteString("</td>")
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</table>")
}

func writeLabel(sb *strings.Builder, labels *neuronscope.View, i int) {
	if labels == nil {
		return
	}
	sb.WriteString(`<span class="ns-label">`)
	sb.WriteString(html.EscapeString(labels.Format(i)))
	sb.WriteString("</span> ")
}

var (
	colorPositive = [3]float32{69, 254, 152}
	colorZero     = [3]float32{0, 0, 0}
	colorNegative = [3]float32{255, 0, 0}
)

// heatmapColor interpolates between colorZero and colorPositive or
// colorNegative. The magnitude is clamped to 1; NaN maps to colorZero.
func heatmapColor(value float32) [3]uint8 {
	target := colorPositive
	if value < 0 {
		target = colorNegative
	}
	t := float32(math.Abs(float64(value)))
	if math.IsNaN(float64(t)) {
		t = 0
	}
	t = min(t, 1)
	var rgb [3]uint8
	for i := range rgb {
		rgb[i] = uint8(math.Round(float64(colorZero[i] + (target[i]-colorZero[i])*t)))
	}
	return rgb
}
