// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplate(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected []segment
	}{
		{"empty", "", nil},
		{"text only", "<p>hello } {</p>", []segment{{text: "<p>hello } {</p>"}}},
		{"key", "{{score}}", []segment{
			{ph: &placeholder{pos: 0, raw: "{{score}}", key: "score"}},
		}},
		{"text around", "a {{ score }} b", []segment{
			{text: "a "},
			{ph: &placeholder{pos: 2, raw: "{{ score }}", key: "score"}},
			{text: " b"},
		}},
		{"indices and labels", "{{ grid [ 1 , 0 ] | labels = names }}", []segment{
			{ph: &placeholder{raw: "{{ grid [ 1 , 0 ] | labels = names }}", key: "grid", indices: []int{1, 0}, labels: "names"}},
		}},
		{"key with inner space", "{{my key}}", []segment{
			{ph: &placeholder{raw: "{{my key}}", key: "my key"}},
		}},
		{"built-ins", "{{@layer}}{{ @neuron }}{{@rank}}{{@title}}", []segment{
			{ph: &placeholder{pos: 0, raw: "{{@layer}}", builtin: "@layer"}},
			{ph: &placeholder{pos: 10, raw: "{{ @neuron }}", builtin: "@neuron"}},
			{ph: &placeholder{pos: 23, raw: "{{@rank}}", builtin: "@rank"}},
			{ph: &placeholder{pos: 32, raw: "{{@title}}", builtin: "@title"}},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := parseTemplate(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, tmpl.segments)
		})
	}
}

func TestParseTemplate_BadPlaceholder(t *testing.T) {
	testCases := []struct {
		text string
		pos  int
	}{
		{"{{", 0},
		{"ab{{score", 2},
		{"{{}}", 0},
		{"{{   }}", 0},
		{"x{{@foo}}", 1},
		{"{{@layer|labels=names}}", 0},
		{"{{@layer[0]}}", 0},
		{"{{a[1}}", 0},
		{"{{a[]}}", 0},
		{"{{a[-1]}}", 0},
		{"{{a[x]}}", 0},
		{"{{a[1]x}}", 0},
		{"{{a[1][2]}}", 0},
		{"{{[1]}}", 0},
		{"{{a|foo=b}}", 0},
		{"{{a|labels}}", 0},
		{"{{a|labels=}}", 0},
		{"{{a|labels=b|c}}", 0},
		{"{{ok}} {{a{b}}", 7},
		{"{{a=b}}", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			_, err := parseTemplate(tc.text)
			require.ErrorIs(t, err, ErrBadPlaceholder)
			var pe *PlaceholderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.pos, pe.Pos)
		})
	}
}
