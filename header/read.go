// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// MaxDims is the maximum number of dimensions a directory shape may have.
const MaxDims = 64

// maxKeyLen limits the length of a key, in bytes.
const maxKeyLen = 1 << 16

// Read reads the header, directory, rank and template sections from r,
// leaving r positioned at the first byte of the data section.
//
// Read never consumes more bytes than the sections themselves, so the
// same reader can be used to stream the data section afterwards.
// The returned Header has been validated.
func Read(r io.Reader) (Header, error) {
	cr := &countingReader{r: r}
	h, err := read(cr)
	if err != nil {
		return Header{}, err
	}
	if err = h.Validate(); err != nil {
		return Header{}, corrupt(ErrInconsistentLayout, "%v", err)
	}
	h.DataOffset = cr.n
	return h, nil
}

func read(r io.Reader) (h Header, err error) {
	magic := make([]byte, len(Magic))
	if _, err = io.ReadFull(r, magic); err != nil {
		return h, truncated(err, "magic")
	}
	if string(magic) != Magic {
		return h, corrupt(ErrBadMagic, "expected %q, actual %q", Magic, magic)
	}
	if h.Version, err = readUint32(r); err != nil {
		return h, truncated(err, "version")
	}
	if h.Version != Version {
		return h, corrupt(ErrVersionMismatch, "expected %d, actual %d", Version, h.Version)
	}
	if h.ModelSize.NumLayers, err = readUint32(r); err != nil {
		return h, truncated(err, "number of layers")
	}
	if h.ModelSize.NumNeurons, err = readUint32(r); err != nil {
		return h, truncated(err, "number of neurons")
	}
	count, err := readUint32(r)
	if err != nil {
		return h, truncated(err, "dataset count")
	}
	hasRank, err := readFlag(r, "has-rank")
	if err != nil {
		return h, err
	}
	if h.HasTemplate, err = readFlag(r, "has-template"); err != nil {
		return h, err
	}

	for i := range count {
		e, err := readEntry(r)
		if err != nil {
			return h, fmt.Errorf("directory entry %d: %w", i, err)
		}
		h.Entries = append(h.Entries, e)
	}

	if hasRank {
		rank, err := readRank(r, h.ModelSize)
		if err != nil {
			return h, fmt.Errorf("rank section: %w", err)
		}
		h.Rank = &rank
	}

	if h.HasTemplate {
		if h.Template, err = readString(r, -1); err != nil {
			return h, fmt.Errorf("template section: %w", err)
		}
	}
	return h, nil
}

func readEntry(r io.Reader) (e Entry, err error) {
	if e.Key, err = readString(r, maxKeyLen); err != nil {
		return e, err
	}
	var tags [2]byte
	if _, err = io.ReadFull(r, tags[:]); err != nil {
		return e, truncated(err, "tags of %q", e.Key)
	}
	e.ScalarType = scalar.Type(tags[0])
	if err = e.ScalarType.Validate(); err != nil {
		return e, corrupt(ErrInconsistentLayout, "%q: %v", e.Key, err)
	}
	e.Scope = shape.Scope(tags[1])
	if err = e.Scope.Validate(); err != nil {
		return e, corrupt(ErrInconsistentLayout, "%q: %v", e.Key, err)
	}

	numDims, err := readUint32(r)
	if err != nil {
		return e, truncated(err, "shape of %q", e.Key)
	}
	if numDims > MaxDims {
		return e, corrupt(ErrInconsistentLayout, "%q has %d dimensions, at most %d supported", e.Key, numDims, MaxDims)
	}
	e.Shape = make([]int, numDims)
	for i := range e.Shape {
		d, err := readUint32(r)
		if err != nil {
			return e, truncated(err, "shape of %q", e.Key)
		}
		e.Shape[i] = int(d)
	}

	if e.DataOffsets.Begin, err = readUint64(r); err != nil {
		return e, truncated(err, "data offset of %q", e.Key)
	}
	length, err := readUint64(r)
	if err != nil {
		return e, truncated(err, "data length of %q", e.Key)
	}
	e.DataOffsets.End = e.DataOffsets.Begin + length
	if e.DataOffsets.End < e.DataOffsets.Begin {
		return e, corrupt(ErrInconsistentLayout, "data range of %q overflows", e.Key)
	}
	return e, nil
}

func readRank(r io.Reader, size shape.ModelSize) (rank Rank, err error) {
	if rank.Key, err = readString(r, maxKeyLen); err != nil {
		return rank, err
	}
	for l := range size.NumLayers {
		sorted, err := readUint32s(r, size.NumNeurons)
		if err != nil {
			return rank, fmt.Errorf("sorted neurons of layer %d: %w", l, err)
		}
		ranks, err := readUint32s(r, size.NumNeurons)
		if err != nil {
			return rank, fmt.Errorf("ranks of layer %d: %w", l, err)
		}
		rank.Sorted = append(rank.Sorted, sorted)
		rank.Ranks = append(rank.Ranks, ranks)
	}
	return rank, nil
}

func readFlag(r io.Reader, name string) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, truncated(err, "%s flag", name)
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, corrupt(ErrInconsistentLayout, "%s flag must be 0 or 1, actual %d", name, b[0])
	}
}

// ReadString reads a uint32 length followed by as many bytes of UTF-8
// text, as strings are laid out in every section.
func ReadString(r io.Reader) (string, error) {
	return readString(r, -1)
}

func readString(r io.Reader, limit int) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", truncated(err, "string length")
	}
	if limit >= 0 && uint64(n) > uint64(limit) {
		return "", corrupt(ErrInconsistentLayout, "string length %d exceeds %d", n, limit)
	}
	b, err := readBytes(r, uint64(n))
	if err != nil {
		return "", truncated(err, "string of length %d", n)
	}
	if !utf8.Valid(b) {
		return "", corrupt(ErrInconsistentLayout, "invalid UTF-8 string")
	}
	return string(b), nil
}

func readUint32s(r io.Reader, n uint32) ([]uint32, error) {
	b, err := readBytes(r, uint64(n)*4)
	if err != nil {
		return nil, truncated(err, "%d uint32 values", n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}

// readBytes reads exactly n bytes. Memory grows with the data actually
// read, so a corrupt length cannot trigger a huge allocation up front.
func readBytes(r io.Reader, n uint64) ([]byte, error) {
	if n <= 4096 {
		b := make([]byte, n)
		_, err := io.ReadFull(r, b)
		return b, err
	}
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, r, int64(n))
	if err == io.EOF && copied < int64(n) {
		err = io.ErrUnexpectedEOF
	}
	return buf.Bytes(), err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// truncated maps an unexpected end of input to ErrTruncated. Other read
// errors are returned wrapped as they are.
func truncated(err error, format string, args ...any) error {
	if errors.Is(err, ErrCorrupt) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corrupt(ErrTruncated, format, args...)
	}
	return fmt.Errorf("failed to read %s: %w", fmt.Sprintf(format, args...), err)
}

// ReadBytes reads exactly n bytes from r. The buffer grows as data
// arrives, so n may come from untrusted input.
func ReadBytes(r io.Reader, n uint64) ([]byte, error) {
	return readBytes(r, n)
}

// Truncated is the exported form of the mapping applied to read errors
// within the header sections, for readers of the data section.
func Truncated(err error, format string, args ...any) error {
	return truncated(err, format, args...)
}

// Corrupt returns an error wrapping ErrCorrupt and the given reason.
func Corrupt(reason error, format string, args ...any) error {
	return corrupt(reason, format, args...)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
