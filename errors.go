// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"errors"

	"github.com/nlpodyssey/neuronscope/header"
)

// Construction and validation errors. They are returned wrapped with the
// offending key and shapes; match them with errors.Is.
var (
	ErrInvalidModelSize  = errors.New("invalid model size")
	ErrInvalidKey        = errors.New("invalid key")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrTypeMismatch      = errors.New("data type does not match scalar type")
	ErrLengthMismatch    = errors.New("data length does not match shape")
	ErrInvalidString     = errors.New("string element is not valid UTF-8")
	ErrInvalidRankSource = errors.New("invalid rank source")
	ErrAlreadyBuilt      = errors.New("builder already built")
	ErrUnknownKey        = errors.New("unknown key")
)

// Codec errors. Decoding failures always wrap ErrCorruptPayload together
// with exactly one of the reasons below.
var (
	ErrCorruptPayload     = header.ErrCorrupt
	ErrBadMagic           = header.ErrBadMagic
	ErrVersionMismatch    = header.ErrVersionMismatch
	ErrTruncated          = header.ErrTruncated
	ErrInconsistentLayout = header.ErrInconsistentLayout
)
