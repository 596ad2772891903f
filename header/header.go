// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package header reads, writes and validates everything of a payload file
// that precedes the data section: the fixed header, the dataset directory,
// the rank section and the template section.
package header

import (
	"errors"
	"fmt"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

const (
	// Magic identifies a payload stream.
	Magic = "NSCP"
	// Version is the only format version this package reads and writes.
	Version uint32 = 1
)

// Decoding errors. Every error returned by Read wraps ErrCorrupt and one
// of the reasons.
var (
	ErrCorrupt            = errors.New("corrupt payload")
	ErrBadMagic           = errors.New("bad magic")
	ErrVersionMismatch    = errors.New("version mismatch")
	ErrTruncated          = errors.New("truncated read")
	ErrInconsistentLayout = errors.New("inconsistent directory and data layout")
)

// Header describes a payload stream up to the start of its data section.
type Header struct {
	Version   uint32
	ModelSize shape.ModelSize
	// Entries is the dataset directory, sorted by ascending Key.
	Entries []Entry
	// Rank is nil when the payload has no rank index.
	Rank        *Rank
	Template    string
	HasTemplate bool
	// DataOffset is the byte index where the data section starts, relative
	// to the beginning of the stream. It is set by Read and Write.
	DataOffset int64
}

// Entry is one directory record.
type Entry struct {
	Key         string
	ScalarType  scalar.Type
	Scope       shape.Scope
	Shape       []int
	DataOffsets DataOffsets
}

// DataOffsets describes the "[Begin, End)" byte range of a dataset within
// the data section.
type DataOffsets struct {
	// Begin is the lower bound byte index (included).
	Begin uint64
	// End is the upper bound byte index (excluded).
	End uint64
}

// Len returns End - Begin.
func (d DataOffsets) Len() uint64 { return d.End - d.Begin }

// Rank holds the rank section: per layer, the neurons sorted by rank and
// the rank of each neuron.
type Rank struct {
	Key    string
	Sorted [][]uint32
	Ranks  [][]uint32
}

// Entry returns the directory record with the given key, and whether it
// has been found.
func (h Header) Entry(key string) (Entry, bool) {
	lo, hi := 0, len(h.Entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if h.Entries[mid].Key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(h.Entries) && h.Entries[lo].Key == key {
		return h.Entries[lo], true
	}
	return Entry{}, false
}

// DataLen returns the size of the data section in bytes.
func (h Header) DataLen() uint64 {
	if len(h.Entries) == 0 {
		return 0
	}
	return h.Entries[len(h.Entries)-1].DataOffsets.End
}

func corrupt(reason error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrCorrupt, reason, fmt.Sprintf(format, args...))
}
