// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nlpodyssey/neuronscope"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Built-in placeholder names.
const (
	builtinLayer  = "@layer"
	builtinNeuron = "@neuron"
	builtinRank   = "@rank"
	builtinTitle  = "@title"
)

// pageTemplate is a parsed template: literal text interleaved with
// placeholders.
type pageTemplate struct {
	segments []segment
}

// segment is either literal text or a placeholder.
type segment struct {
	text string
	ph   *placeholder
}

type placeholder struct {
	pos     int
	raw     string
	builtin string
	key     string
	indices []int
	labels  string
}

func (ph *placeholder) errorf(err error, format string, args ...any) *PlaceholderError {
	return &PlaceholderError{Pos: ph.pos, Placeholder: ph.raw, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// parseTemplate splits text into literal segments and placeholders.
//
// The grammar is closed:
//
//	{{ key }}
//	{{ key[i, j, ...] }}
//	{{ key[i, ...] | labels=otherKey }}
//	{{ @layer }}  {{ @neuron }}  {{ @rank }}  {{ @title }}
//
// Whitespace inside the braces is ignored.
func parseTemplate(text string) (*pageTemplate, error) {
	t := &pageTemplate{}
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], openDelim)
		if i < 0 {
			t.appendText(text[pos:])
			break
		}
		t.appendText(text[pos : pos+i])
		start := pos + i
		j := strings.Index(text[start+len(openDelim):], closeDelim)
		if j < 0 {
			return nil, &PlaceholderError{Pos: start, Placeholder: text[start:], Err: ErrBadPlaceholder, Detail: "missing closing \"}}\""}
		}
		end := start + len(openDelim) + j + len(closeDelim)
		ph, err := parsePlaceholder(text[start:end], start)
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, segment{ph: ph})
		pos = end
	}
	return t, nil
}

func (t *pageTemplate) appendText(s string) {
	if s != "" {
		t.segments = append(t.segments, segment{text: s})
	}
}

// placeholders returns the placeholders in order of appearance.
func (t *pageTemplate) placeholders() []*placeholder {
	var out []*placeholder
	for _, s := range t.segments {
		if s.ph != nil {
			out = append(out, s.ph)
		}
	}
	return out
}

func parsePlaceholder(raw string, pos int) (*placeholder, error) {
	ph := &placeholder{pos: pos, raw: raw}
	body := strings.TrimSpace(raw[len(openDelim) : len(raw)-len(closeDelim)])
	if body == "" {
		return nil, ph.errorf(ErrBadPlaceholder, "empty placeholder")
	}

	ref, opt, hasOpt := strings.Cut(body, "|")
	ref = strings.TrimSpace(ref)

	if strings.HasPrefix(ref, "@") {
		switch ref {
		case builtinLayer, builtinNeuron, builtinRank, builtinTitle:
		default:
			return nil, ph.errorf(ErrBadPlaceholder, "unknown built-in %q", ref)
		}
		if hasOpt {
			return nil, ph.errorf(ErrBadPlaceholder, "built-in %q takes no options", ref)
		}
		ph.builtin = ref
		return ph, nil
	}

	ph.key = ref
	if key, list, ok := strings.Cut(ref, "["); ok {
		if !strings.HasSuffix(list, "]") {
			return nil, ph.errorf(ErrBadPlaceholder, "index list must end with ']'")
		}
		ph.key = strings.TrimSpace(key)
		indices, err := parseIndices(strings.TrimSuffix(list, "]"))
		if err != nil {
			return nil, ph.errorf(ErrBadPlaceholder, "%v", err)
		}
		ph.indices = indices
	}
	if err := neuronscope.ValidateKey(ph.key); err != nil {
		return nil, ph.errorf(ErrBadPlaceholder, "%v", err)
	}

	if hasOpt {
		name, value, ok := strings.Cut(opt, "=")
		if !ok || strings.TrimSpace(name) != "labels" {
			return nil, ph.errorf(ErrBadPlaceholder, "unknown option %q, expected labels=key", strings.TrimSpace(opt))
		}
		ph.labels = strings.TrimSpace(value)
		if err := neuronscope.ValidateKey(ph.labels); err != nil {
			return nil, ph.errorf(ErrBadPlaceholder, "labels: %v", err)
		}
	}
	return ph, nil
}

func parseIndices(list string) ([]int, error) {
	fields := strings.Split(list, ",")
	indices := make([]int, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		n, err := strconv.ParseUint(f, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", f)
		}
		indices[i] = int(n)
	}
	return indices, nil
}
