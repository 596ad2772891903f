// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/neuronscope/header"
)

// Encode serializes the payload to w: header, directory, rank and template
// sections first, followed by the data of each dataset in key order.
//
// The encoding is deterministic: equal payloads produce identical bytes.
func Encode(w io.Writer, p *Payload) error {
	head := p.header()
	bw := bufio.NewWriter(w)
	if _, err := header.Write(bw, head); err != nil {
		return fmt.Errorf("failed to write payload header: %w", err)
	}
	for i, ds := range p.Datasets() {
		if err := writeDataset(bw, ds, head.Entries[i]); err != nil {
			return fmt.Errorf("failed to write data of dataset %q: %w", ds.key, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// Marshal returns the encoding of p.
func Marshal(p *Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes p into the named file. The content is first written to
// a temporary file in the same directory, which is then renamed, so that
// readers never observe a partially written payload.
func WriteFile(name string, p *Payload) (err error) {
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err = Encode(f, p); err != nil {
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}

func (p *Payload) header() header.Header {
	h := header.Header{
		Version:     header.Version,
		ModelSize:   p.size,
		Entries:     make([]header.Entry, len(p.keys)),
		Template:    p.template,
		HasTemplate: p.hasTemplate,
	}
	offset := uint64(0)
	for i, k := range p.keys {
		ds := p.datasets[k]
		end := offset + ds.ByteLen()
		h.Entries[i] = header.Entry{
			Key:         ds.key,
			ScalarType:  ds.scalarType,
			Scope:       ds.scope,
			Shape:       ds.shape,
			DataOffsets: header.DataOffsets{Begin: offset, End: end},
		}
		offset = end
	}
	if p.rank != nil {
		h.Rank = &header.Rank{
			Key:    p.rank.key,
			Sorted: p.rank.sorted,
			Ranks:  p.rank.ranks,
		}
	}
	return h
}

func writeDataset(w io.Writer, ds Dataset, e header.Entry) error {
	n, err := ds.writeTo(w)
	if err != nil {
		return err
	}
	if expected := int64(e.DataOffsets.Len()); n != expected {
		return fmt.Errorf("expected %d written bytes, actual %d", expected, n)
	}
	return nil
}
