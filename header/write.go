// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MarshalBinary encodes the header, directory, rank and template sections.
// The Header is validated first.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(Magic)
	putUint32(&buf, h.Version)
	putUint32(&buf, h.ModelSize.NumLayers)
	putUint32(&buf, h.ModelSize.NumNeurons)
	putUint32(&buf, uint32(len(h.Entries)))
	buf.WriteByte(flag(h.Rank != nil))
	buf.WriteByte(flag(h.HasTemplate))

	for _, e := range h.Entries {
		putString(&buf, e.Key)
		buf.WriteByte(byte(e.ScalarType))
		buf.WriteByte(byte(e.Scope))
		putUint32(&buf, uint32(len(e.Shape)))
		for _, d := range e.Shape {
			putUint32(&buf, uint32(d))
		}
		putUint64(&buf, e.DataOffsets.Begin)
		putUint64(&buf, e.DataOffsets.Len())
	}

	if h.Rank != nil {
		putString(&buf, h.Rank.Key)
		for l := range h.Rank.Sorted {
			for _, n := range h.Rank.Sorted[l] {
				putUint32(&buf, n)
			}
			for _, n := range h.Rank.Ranks[l] {
				putUint32(&buf, n)
			}
		}
	}

	if h.HasTemplate {
		putString(&buf, h.Template)
	}
	return buf.Bytes(), nil
}

// Write writes the encoded sections to w, returning the number of bytes
// written, which is also the offset of the data section.
func Write(w io.Writer, h Header) (int64, error) {
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func flag(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
