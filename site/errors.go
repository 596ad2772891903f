// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"errors"
	"fmt"

	"github.com/nlpodyssey/neuronscope"
)

// Template errors. They are returned wrapped in a *PlaceholderError.
var (
	ErrBadPlaceholder        = errors.New("malformed placeholder")
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	ErrScopeMismatch         = errors.New("placeholder scope not available in this context")
	ErrIndexOutOfRange       = neuronscope.ErrIndexOutOfRange
	ErrTooManyDims           = errors.New("too many dimensions to render")
	ErrLabelShapeMismatch    = errors.New("label shape mismatch")
)

// ErrNotSiteDir is returned by Generate when the output directory exists,
// is not empty and does not look like a previously generated site.
var ErrNotSiteDir = errors.New("output directory is not a generated site")

// PlaceholderError describes a placeholder that could not be parsed or
// resolved.
type PlaceholderError struct {
	// Pos is the byte offset of the placeholder within the template.
	Pos int
	// Placeholder is the placeholder text, braces included.
	Placeholder string
	Err         error
	Detail      string
}

func (e *PlaceholderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("placeholder %q at byte %d: %v", e.Placeholder, e.Pos, e.Err)
	}
	return fmt.Sprintf("placeholder %q at byte %d: %v: %s", e.Placeholder, e.Pos, e.Err, e.Detail)
}

func (e *PlaceholderError) Unwrap() error { return e.Err }
