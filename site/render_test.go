// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/shape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPayload returns a payload of a 2x3 model. The template is only
// set when tmpl is not empty.
func newTestPayload(t testing.TB, tmpl string) *neuronscope.Payload {
	t.Helper()
	b, err := neuronscope.NewBuilder(2, 3)
	require.NoError(t, err)

	require.NoError(t, b.AddFloat32("score", shape.Neuron, []int{2, 3}, []float32{0.1, 0.9, 0.5, 0.7, 0.2, 0.3}))
	grid := make([]float32, 2*3*4)
	copy(grid, []float32{0.125, -0.0625, 0, 0.03125})
	grid[4] = float32(math.NaN())
	require.NoError(t, b.AddFloat32("grid", shape.Neuron, []int{2, 3, 2, 2}, grid))
	require.NoError(t, b.AddStrings("tokens", shape.Neuron, []int{2, 3, 2}, []string{
		"the", "cat", "a", "b", "c", "d",
		"e", "f", "g", "h", "i", "j",
	}))
	require.NoError(t, b.AddStrings("names", shape.Global, []int{2}, []string{"<a>", "b"}))
	require.NoError(t, b.AddUint32("counts", shape.Layer, []int{2, 2}, []uint32{1, 2, 3, 4}))
	require.NoError(t, b.AddUint32("cube", shape.Global, []int{2, 2, 2}, []uint32{0, 1, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, b.AddStrings("title", shape.Global, nil, []string{"Hello & bye"}))
	require.NoError(t, b.AddStrings("cells", shape.Global, []int{2, 2}, []string{"A1", "A2", "B1", "B2"}))
	require.NoError(t, b.SetRankKey("score"))
	if tmpl != "" {
		require.NoError(t, b.SetTemplate(tmpl))
	}
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func renderString(t *testing.T, r *Renderer, text string, c cell) (string, error) {
	t.Helper()
	tmpl, err := parseTemplate(text)
	require.NoError(t, err)
	if err = r.check(tmpl, c); err != nil {
		return "", err
	}
	var sb strings.Builder
	err = r.render(&sb, tmpl, c)
	return sb.String(), err
}

func TestRenderer_Render(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, ""), WithTitle("T<"))
	require.NoError(t, err)

	testCases := []struct {
		name     string
		text     string
		cell     cell
		expected string
	}{
		{"global scalar", "<b>{{title}}</b>", cell{}, "<b>Hello &amp; bye</b>"},
		{"neuron scalar", "{{score}}", cell{layer: 0, neuron: 1}, "0.9"},
		{"built-ins", "{{@layer}}/{{@neuron}}/{{@rank}}", cell{layer: 1, neuron: 2}, "1/2/1"},
		{"title", "{{@title}}", cell{}, "T&lt;"},
		{"index into neuron data", "{{tokens[1]}}", cell{layer: 1, neuron: 0}, "f"},
		{"row", "{{counts}}", cell{layer: 1}, `<table class="ns-row"><tr><td>3</td><td>4</td></tr></table>`},
		{"labeled row", "{{ counts | labels=names }}", cell{layer: 1},
			`<table class="ns-row"><tr><th>&lt;a&gt;</th><th>b</th></tr><tr><td>3</td><td>4</td></tr></table>`},
		{"labeled scalar", "{{grid[0, 1]|labels=title}}", cell{},
			`<span class="ns-label">Hello &amp; bye</span> -0.0625`},
		{"grid", "{{cube[1]}}", cell{},
			`<table class="ns-grid"><tr><td>4</td><td>5</td></tr><tr><td>6</td><td>7</td></tr></table>`},
		{"heatmap", "{{grid}}", cell{},
			`<table class="ns-grid ns-heatmap">` +
				`<tr><td style="background-color: rgb(69, 254, 152)" title="0.125">0.125</td>` +
				`<td style="background-color: rgb(159, 0, 0)" title="-0.0625">-0.0625</td></tr>` +
				`<tr><td style="background-color: rgb(0, 0, 0)" title="0">0</td>` +
				`<td style="background-color: rgb(22, 79, 48)" title="0.03125">0.03125</td></tr>` +
				`</table>`},
		{"labeled heatmap", "{{grid|labels=cells}}", cell{neuron: 1},
			`<table class="ns-grid ns-heatmap">` +
				`<tr><td style="background-color: rgb(0, 0, 0)" title="NaN">A1</td>` +
				`<td style="background-color: rgb(0, 0, 0)" title="0">A2</td></tr>` +
				`<tr><td style="background-color: rgb(0, 0, 0)" title="0">B1</td>` +
				`<td style="background-color: rgb(0, 0, 0)" title="0">B2</td></tr>` +
				`</table>`},
		{"empty", "", cell{}, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := renderString(t, r, tc.text, tc.cell)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestRenderer_Check_Errors(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, ""))
	require.NoError(t, err)

	testCases := []struct {
		name     string
		text     string
		cell     cell
		expected error
	}{
		{"unknown key", "{{zzzzzzzz}}", cell{}, ErrUnresolvedPlaceholder},
		{"unknown labels", "{{counts|labels=nope}}", cell{}, ErrUnresolvedPlaceholder},
		{"index on scalar", "{{score[0]}}", cell{}, ErrBadPlaceholder},
		{"too many indices", "{{cube[0,0,0,0]}}", cell{}, ErrBadPlaceholder},
		{"index out of range", "{{tokens[2]}}", cell{}, ErrIndexOutOfRange},
		{"too many dims", "{{cube}}", cell{}, ErrTooManyDims},
		{"label shape", "{{grid|labels=names}}", cell{}, ErrLabelShapeMismatch},
		{"label type", "{{counts|labels=counts}}", cell{}, ErrLabelShapeMismatch},
		{"neuron dataset on index", "{{score}}", globalCell, ErrScopeMismatch},
		{"layer dataset on index", "{{counts}}", globalCell, ErrScopeMismatch},
		{"layer labels on index", "{{names|labels=counts}}", globalCell, ErrScopeMismatch},
		{"@layer on index", "{{@layer}}", globalCell, ErrScopeMismatch},
		{"@neuron on index", "{{@neuron}}", globalCell, ErrScopeMismatch},
		{"@rank on index", "{{@rank}}", globalCell, ErrScopeMismatch},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := renderString(t, r, tc.text, tc.cell)
			assert.ErrorIs(t, err, tc.expected)
			var pe *PlaceholderError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestRenderer_Suggestion(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, ""))
	require.NoError(t, err)

	_, err = renderString(t, r, "{{scor}}", cell{})
	require.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	assert.Contains(t, err.Error(), `did you mean "score"?`)

	_, err = renderString(t, r, "{{zzzzzzzz}}", cell{})
	require.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestNewRenderer_TemplateErrors(t *testing.T) {
	_, err := NewRenderer(newTestPayload(t, "{{score"))
	assert.ErrorIs(t, err, ErrBadPlaceholder)
	assert.Contains(t, err.Error(), "neuron template")

	_, err = NewRenderer(newTestPayload(t, "{{missing}}"))
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)

	_, err = NewRenderer(newTestPayload(t, ""), WithIndexTemplate("{{score}}"))
	assert.ErrorIs(t, err, ErrScopeMismatch)
	assert.Contains(t, err.Error(), "index template")

	_, err = NewRenderer(newTestPayload(t, ""), WithIndexTemplate("<p>{{@title}}: {{names}}</p>"))
	assert.NoError(t, err)
}

func TestHeatmapColor(t *testing.T) {
	testCases := []struct {
		value    float32
		expected [3]uint8
	}{
		{0, [3]uint8{0, 0, 0}},
		{1, [3]uint8{69, 254, 152}},
		{5, [3]uint8{69, 254, 152}},
		{-1, [3]uint8{255, 0, 0}},
		{float32(math.Inf(-1)), [3]uint8{255, 0, 0}},
		{-0.625, [3]uint8{159, 0, 0}},
		{float32(math.NaN()), [3]uint8{0, 0, 0}},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, heatmapColor(tc.value), "%g", tc.value)
	}
}

func TestRenderer_Navigation(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, ""))
	require.NoError(t, err)

	assert.Equal(t, []link{
		{Href: "../L0/N1.html", Label: "Next", Rel: "next"},
		{Href: "../L0/N2.html", Label: "Higher ranked"},
	}, r.navigation(0, 0))

	assert.Equal(t, []link{
		{Href: "../L0/N1.html", Label: "Previous", Rel: "prev"},
		{Href: "../L1/N0.html", Label: "Next layer", Rel: "next"},
		{Href: "../L0/N1.html", Label: "Higher ranked"},
		{Href: "../L0/N0.html", Label: "Lower ranked"},
	}, r.navigation(0, 2))

	assert.Equal(t, []link{
		{Href: "../L0/N2.html", Label: "Previous layer", Rel: "prev"},
		{Href: "../L1/N1.html", Label: "Next", Rel: "next"},
		{Href: "../L1/N2.html", Label: "Lower ranked"},
	}, r.navigation(1, 0))
}

func TestRenderer_WriteNeuronPage(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, "<div>{{tokens|labels=names}}</div>"), WithTitle("Scope"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteNeuronPage(&buf, 1, 2))
	page := buf.String()

	assert.Contains(t, page, "<title>Scope - Layer 1 Neuron 2</title>")
	assert.Contains(t, page, `<body data-layer="1" data-neuron="2" data-manifest="../manifest.json">`)
	assert.Contains(t, page, `<a href="../index.html">Back to index</a>`)
	assert.Contains(t, page, `<a href="../L1/N1.html" rel="prev">Previous</a>`)
	assert.Contains(t, page, `<p class="ns-rank">Rank 1</p>`)
	assert.Contains(t, page, `<div><table class="ns-row"><tr><th>&lt;a&gt;</th><th>b</th></tr><tr><td>i</td><td>j</td></tr></table></div>`)
	assert.Contains(t, page, `<link rel="stylesheet" href="../static/style.css">`)
	assert.Contains(t, page, `<script src="../static/viewer.js"></script>`)

	err = r.WriteNeuronPage(&buf, 2, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	err = r.WriteNeuronPage(&buf, 0, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestRenderer_WriteNeuronPage_DefaultBody(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, ""))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteNeuronPage(&buf, 0, 1))
	assert.Contains(t, buf.String(), `<table class="ns-summary"><tr><th>score</th><td>0.9</td></tr></table>`)

	b, err := neuronscope.NewBuilder(1, 1)
	require.NoError(t, err)
	p, err := b.Build()
	require.NoError(t, err)
	r, err = NewRenderer(p)
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, r.WriteNeuronPage(&buf, 0, 0))
	assert.Contains(t, buf.String(), `<p class="ns-empty">No per-neuron values.</p>`)
	assert.NotContains(t, buf.String(), "ns-rank")
	assert.NotContains(t, buf.String(), `rel="prev"`)
	assert.NotContains(t, buf.String(), `rel="next"`)
}

func TestRenderer_WriteIndex(t *testing.T) {
	r, err := NewRenderer(newTestPayload(t, ""), WithIndexTemplate("<p>{{names}}</p>"), WithTitle("Index"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteIndex(&buf))
	page := buf.String()

	assert.Contains(t, page, "<title>Index</title>")
	assert.Contains(t, page, `<body data-manifest="manifest.json">`)
	assert.Contains(t, page, `<p><table class="ns-row"><tr><td>&lt;a&gt;</td><td>b</td></tr></table></p>`)
	assert.Contains(t, page, `<h2>Layer 1</h2>`)

	n1 := strings.Index(page, `<li><a href="L0/N1.html">N1</a> <span class="ns-value">0.9</span></li>`)
	n2 := strings.Index(page, `<li><a href="L0/N2.html">N2</a> <span class="ns-value">0.5</span></li>`)
	n0 := strings.Index(page, `<li><a href="L0/N0.html">N0</a> <span class="ns-value">0.1</span></li>`)
	require.True(t, n1 >= 0 && n2 >= 0 && n0 >= 0, page)
	assert.True(t, n1 < n2 && n2 < n0, "neurons must be listed by rank")
}

func TestRenderer_WriteIndex_NoRank(t *testing.T) {
	b, err := neuronscope.NewBuilder(1, 2)
	require.NoError(t, err)
	p, err := b.Build()
	require.NoError(t, err)
	r, err := NewRenderer(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteIndex(&buf))
	page := buf.String()
	n0 := strings.Index(page, `<li><a href="L0/N0.html">N0</a></li>`)
	n1 := strings.Index(page, `<li><a href="L0/N1.html">N1</a></li>`)
	require.True(t, n0 >= 0 && n1 >= 0, page)
	assert.Less(t, n0, n1)
	assert.Equal(t, DefaultTitle, r.Title())
}
