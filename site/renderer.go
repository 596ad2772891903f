// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/shape"
)

// Renderer renders the pages of a site for one payload. Templates are
// parsed and checked against the payload by NewRenderer, so page rendering
// only fails on I/O errors.
//
// A Renderer is safe for concurrent use.
type Renderer struct {
	payload *neuronscope.Payload
	opts    options
	// neuron is nil when the payload has no template.
	neuron *pageTemplate
	// index is nil when no index template was given.
	index *pageTemplate
}

// NewRenderer parses the payload template and the optional index template,
// and checks every placeholder against the payload.
func NewRenderer(p *neuronscope.Payload, opts ...Option) (*Renderer, error) {
	r := &Renderer{payload: p, opts: newOptions(opts)}

	if text, ok := p.Template(); ok {
		t, err := parseTemplate(text)
		if err != nil {
			return nil, fmt.Errorf("neuron template: %w", err)
		}
		if err = r.check(t, cell{}); err != nil {
			return nil, fmt.Errorf("neuron template: %w", err)
		}
		r.neuron = t
	}

	if r.opts.hasIndexTemplate {
		t, err := parseTemplate(r.opts.indexTemplate)
		if err != nil {
			return nil, fmt.Errorf("index template: %w", err)
		}
		if err = r.check(t, globalCell); err != nil {
			return nil, fmt.Errorf("index template: %w", err)
		}
		r.index = t
	}
	return r, nil
}

// Payload returns the payload pages are rendered from.
func (r *Renderer) Payload() *neuronscope.Payload { return r.payload }

// Title returns the site title.
func (r *Renderer) Title() string { return r.opts.title }

// link is a navigation link; a zero link is not rendered.
type link struct {
	Href  string
	Label string
	Rel   string
}

type neuronPage struct {
	Title    string
	Layer    int
	Neuron   int
	Rank     string
	Nav      []link
	Body     template.HTML
	Manifest string
}

type indexLayer struct {
	Index   int
	Neurons []indexNeuron
}

type indexNeuron struct {
	Neuron int
	Href   string
	Value  string
}

type indexPage struct {
	Title    string
	Body     template.HTML
	RankKey  string
	Layers   []indexLayer
	Manifest string
}

// WriteNeuronPage renders the page of one neuron to w.
func (r *Renderer) WriteNeuronPage(w io.Writer, layer, neuron int) error {
	size := r.payload.ModelSize()
	if layer < 0 || layer >= int(size.NumLayers) || neuron < 0 || neuron >= int(size.NumNeurons) {
		return fmt.Errorf("%w: neuron L%d/N%d of model %s", ErrIndexOutOfRange, layer, neuron, size)
	}
	c := cell{layer: layer, neuron: neuron}

	var body strings.Builder
	if r.neuron != nil {
		if err := r.render(&body, r.neuron, c); err != nil {
			return err
		}
	} else {
		r.renderDefaultBody(&body, c)
	}

	page := neuronPage{
		Title:    r.opts.title,
		Layer:    layer,
		Neuron:   neuron,
		Rank:     r.builtin(builtinRank, c),
		Nav:      r.navigation(layer, neuron),
		Body:     template.HTML(body.String()),
		Manifest: "../" + ManifestFile,
	}
	return pageTemplates.ExecuteTemplate(w, "neuron", page)
}

// WriteIndex renders the index page to w.
func (r *Renderer) WriteIndex(w io.Writer) error {
	var body strings.Builder
	if r.index != nil {
		if err := r.render(&body, r.index, globalCell); err != nil {
			return err
		}
	}

	page := indexPage{
		Title:    r.opts.title,
		Body:     template.HTML(body.String()),
		Manifest: ManifestFile,
	}
	size := r.payload.ModelSize()
	ri := r.payload.RankIndex()
	var rankValues []float32
	if ri != nil {
		page.RankKey = ri.Key()
		ds, _ := r.payload.Dataset(ri.Key())
		rankValues, _ = ds.Float32s()
	}
	for l := range int(size.NumLayers) {
		layer := indexLayer{Index: l, Neurons: make([]indexNeuron, size.NumNeurons)}
		for i := range layer.Neurons {
			n := i
			if ri != nil {
				n = int(ri.SortedNeurons(l)[i])
			}
			in := indexNeuron{Neuron: n, Href: neuronHref("", l, n)}
			if rankValues != nil {
				in.Value = formatFloat(rankValues[l*int(size.NumNeurons)+n])
			}
			layer.Neurons[i] = in
		}
		page.Layers = append(page.Layers, layer)
	}
	return pageTemplates.ExecuteTemplate(w, "index", page)
}

// renderDefaultBody lists every dataset holding one value per neuron.
func (r *Renderer) renderDefaultBody(sb *strings.Builder, c cell) {
	var rows int
	for _, ds := range r.payload.Datasets() {
		if ds.Scope() != shape.Neuron || len(ds.Shape()) != 2 {
			continue
		}
		v, err := ds.At(c.layer, c.neuron)
		if err != nil {
			continue
		}
		if rows == 0 {
			sb.WriteString(`<table class="ns-summary">`)
		}
		rows++
		sb.WriteString("<tr><th>")
		sb.WriteString(template.HTMLEscapeString(ds.Key()))
		sb.WriteString("</th><td>")
		sb.WriteString(template.HTMLEscapeString(v.Format(0)))
		sb.WriteString("</td></tr>")
	}
	if rows == 0 {
		sb.WriteString(`<p class="ns-empty">No per-neuron values.</p>`)
		return
	}
	sb.WriteString("</table>")
}

// navigation returns the previous/next neuron links, crossing layer
// boundaries, followed by the previous/next links by rank.
func (r *Renderer) navigation(layer, neuron int) []link {
	size := r.payload.ModelSize()
	numLayers, numNeurons := int(size.NumLayers), int(size.NumNeurons)

	var nav []link
	switch {
	case neuron > 0:
		nav = append(nav, link{Href: neuronHref("../", layer, neuron-1), Label: "Previous", Rel: "prev"})
	case layer > 0:
		nav = append(nav, link{Href: neuronHref("../", layer-1, numNeurons-1), Label: "Previous layer", Rel: "prev"})
	}
	switch {
	case neuron < numNeurons-1:
		nav = append(nav, link{Href: neuronHref("../", layer, neuron+1), Label: "Next", Rel: "next"})
	case layer < numLayers-1:
		nav = append(nav, link{Href: neuronHref("../", layer+1, 0), Label: "Next layer", Rel: "next"})
	}

	if ri := r.payload.RankIndex(); ri != nil {
		rank := int(ri.Rank(layer, neuron))
		sorted := ri.SortedNeurons(layer)
		if rank > 0 {
			nav = append(nav, link{Href: neuronHref("../", layer, int(sorted[rank-1])), Label: "Higher ranked"})
		}
		if rank < numNeurons-1 {
			nav = append(nav, link{Href: neuronHref("../", layer, int(sorted[rank+1])), Label: "Lower ranked"})
		}
	}
	return nav
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// NeuronPath returns the path of a neuron page, relative to the site root.
func NeuronPath(layer, neuron int) string {
	return fmt.Sprintf("L%d/N%d.html", layer, neuron)
}

func neuronHref(base string, layer, neuron int) string {
	return base + NeuronPath(layer, neuron)
}
