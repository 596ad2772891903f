// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf8"

	"github.com/nlpodyssey/neuronscope/header"
	"github.com/nlpodyssey/neuronscope/scalar"
)

// Decode reads a whole payload from r.
//
// Any malformed input results in an error wrapping ErrCorruptPayload and
// one of ErrBadMagic, ErrVersionMismatch, ErrTruncated or
// ErrInconsistentLayout. Bytes following the data section are an
// inconsistency too. A partial Payload is never returned.
func Decode(r io.Reader) (*Payload, error) {
	br := bufio.NewReader(r)
	head, err := header.Read(br)
	if err != nil {
		return nil, err
	}
	p, err := readPayload(br, head)
	if err != nil {
		return nil, err
	}
	if _, err = br.ReadByte(); err != io.EOF {
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return nil, header.Corrupt(ErrInconsistentLayout, "trailing bytes after the data section")
	}
	return p, nil
}

// Unmarshal decodes a payload from b.
func Unmarshal(b []byte) (*Payload, error) {
	return Decode(bytes.NewReader(b))
}

// ReadFile decodes the payload stored in the named file.
func ReadFile(name string) (*Payload, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

// readPayload reads the data section, r being positioned at its start.
func readPayload(r io.Reader, head header.Header) (*Payload, error) {
	p := &Payload{
		size:        head.ModelSize,
		datasets:    make(map[string]Dataset, len(head.Entries)),
		keys:        make([]string, len(head.Entries)),
		template:    head.Template,
		hasTemplate: head.HasTemplate,
	}
	for i, e := range head.Entries {
		ds, err := readDataset(r, e)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", e.Key, err)
		}
		p.datasets[e.Key] = ds
		p.keys[i] = e.Key
	}
	if head.Rank != nil {
		p.rank = &RankIndex{key: head.Rank.Key, sorted: head.Rank.Sorted, ranks: head.Rank.Ranks}
		values, _ := p.datasets[head.Rank.Key].Float32s()
		want := newRankIndex(head.Rank.Key, values, int(p.size.NumLayers), int(p.size.NumNeurons))
		if !p.rank.equal(&want) {
			return nil, header.Corrupt(ErrInconsistentLayout, "rank section does not match the values of %q", head.Rank.Key)
		}
	}
	return p, nil
}

func readDataset(r io.Reader, e header.Entry) (Dataset, error) {
	if err := ValidateKey(e.Key); err != nil {
		return Dataset{}, header.Corrupt(ErrInconsistentLayout, "%v", err)
	}
	data, err := readTypedData(r, e)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{
		key:        e.Key,
		scalarType: e.ScalarType,
		scope:      e.Scope,
		shape:      copyShape(e.Shape),
		data:       data,
	}, nil
}

func readTypedData(r io.Reader, e header.Entry) (any, error) {
	if e.ScalarType == scalar.Utf8String {
		return readStringData(r, e)
	}
	b, err := header.ReadBytes(r, e.DataOffsets.Len())
	if err != nil {
		return nil, header.Truncated(err, "data of %q", e.Key)
	}
	switch e.ScalarType {
	case scalar.UInt32:
		return convert32bitData(b, func(u uint32) uint32 { return u }), nil
	case scalar.Float32:
		return convert32bitData(b, math.Float32frombits), nil
	}
	return nil, header.Corrupt(ErrInconsistentLayout, "unsupported scalar type %s", e.ScalarType)
}

func convert32bitData[T any](b []byte, fromBits func(uint32) T) []T {
	out := make([]T, len(b)/4)
	for i := range out {
		out[i] = fromBits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// readStringData reads length-prefixed strings, which must consume the
// byte range of the entry exactly.
func readStringData(r io.Reader, e header.Entry) ([]string, error) {
	count := 1
	for _, d := range e.Shape {
		count *= d
	}
	remaining := e.DataOffsets.Len()
	var out []string
	var lenBuf [4]byte
	for i := range count {
		if remaining < 4 {
			return nil, header.Corrupt(ErrInconsistentLayout, "string %d of %q exceeds the data range", i, e.Key)
		}
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, header.Truncated(err, "string %d of %q", i, e.Key)
		}
		remaining -= 4
		n := uint64(binary.LittleEndian.Uint32(lenBuf[:]))
		if n > remaining {
			return nil, header.Corrupt(ErrInconsistentLayout, "string %d of %q exceeds the data range", i, e.Key)
		}
		b, err := header.ReadBytes(r, n)
		if err != nil {
			return nil, header.Truncated(err, "string %d of %q", i, e.Key)
		}
		remaining -= n
		if !utf8.Valid(b) {
			return nil, header.Corrupt(ErrInconsistentLayout, "string %d of %q is not valid UTF-8", i, e.Key)
		}
		out = append(out, string(b))
	}
	if remaining != 0 {
		return nil, header.Corrupt(ErrInconsistentLayout, "%d unused bytes in the data range of %q", remaining, e.Key)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
