// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neuronscope

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/nlpodyssey/neuronscope/header"
	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
)

// LazyPayload allows to read the directory of a payload, lazy-loading
// data of individual datasets.
type LazyPayload struct {
	rs   io.ReadSeeker
	head header.Header
	// dataOffset is the data section offset relative to the start of rs
	dataOffset int64
}

// LazyDataset provides information about a dataset and allows lazy loading
// its data.
type LazyDataset struct {
	rs io.ReadSeeker
	e  header.Entry
	// dataOffset is the data section offset relative to the start of rs
	dataOffset int64
}

// OpenLazy reads from rs the header, directory, rank and template sections
// and validates them, then returns a new LazyPayload in case of success,
// otherwise nil and an error.
//
// The current "seek" position of rs is used as a base for all further
// seek-based operations to read dataset data.
//
// The given io.ReadSeeker must remain available for operations as long as
// the LazyPayload, or any LazyDataset obtained from it, is in use. Neither
// is safe for concurrent use, since they share the seek position of rs.
func OpenLazy(rs io.ReadSeeker) (*LazyPayload, error) {
	initialOffset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial offset: %w", err)
	}
	head, err := header.Read(rs)
	if err != nil {
		return nil, err
	}
	dataOffset, err := checkedAddNonNegInt64(initialOffset, head.DataOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate data section offset: %w", err)
	}
	return &LazyPayload{
		rs:         rs,
		head:       head,
		dataOffset: dataOffset,
	}, nil
}

// ModelSize returns the model size declared by the payload.
func (lp *LazyPayload) ModelSize() shape.ModelSize { return lp.head.ModelSize }

// DataOffset returns the offset of the data section, relative to the start
// of the io.ReadSeeker.
func (lp *LazyPayload) DataOffset() int64 { return lp.dataOffset }

// DataLen returns the size in bytes of the data section.
func (lp *LazyPayload) DataLen() uint64 { return lp.head.DataLen() }

// Entries returns a copy of the directory, in key order.
func (lp *LazyPayload) Entries() []header.Entry {
	out := make([]header.Entry, len(lp.head.Entries))
	for i, e := range lp.head.Entries {
		e.Shape = copyShape(e.Shape)
		out[i] = e
	}
	return out
}

// Keys returns the dataset keys in ascending order.
func (lp *LazyPayload) Keys() []string {
	keys := make([]string, len(lp.head.Entries))
	for i, e := range lp.head.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Template returns the per-neuron page template and whether one was set.
func (lp *LazyPayload) Template() (string, bool) { return lp.head.Template, lp.head.HasTemplate }

// RankKey returns the key of the dataset the rank index was computed from,
// and whether the payload has a rank index.
func (lp *LazyPayload) RankKey() (string, bool) {
	if lp.head.Rank == nil {
		return "", false
	}
	return lp.head.Rank.Key, true
}

// LazyDataset returns a LazyDataset by its key, and whether it has been
// found.
//
// If ok is false, the LazyDataset is the zero-value, and must not be used.
func (lp *LazyPayload) LazyDataset(key string) (_ LazyDataset, ok bool) {
	e, ok := lp.head.Entry(key)
	if !ok {
		return LazyDataset{}, false
	}
	return LazyDataset{
		rs:         lp.rs,
		e:          e,
		dataOffset: lp.dataOffset,
	}, true
}

// Payload reads the whole data section, returning a fully loaded Payload.
func (lp *LazyPayload) Payload() (*Payload, error) {
	if _, err := lp.rs.Seek(lp.dataOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to data section offset: %w", err)
	}
	return readPayload(bufio.NewReader(io.LimitReader(lp.rs, int64(min(lp.head.DataLen(), math.MaxInt64)))), lp.head)
}

// Key returns the key of the dataset.
func (ld LazyDataset) Key() string { return ld.e.Key }

// ScalarType returns the element type of the dataset.
func (ld LazyDataset) ScalarType() scalar.Type { return ld.e.ScalarType }

// Scope returns the structural scope of the dataset.
func (ld LazyDataset) Scope() shape.Scope { return ld.e.Scope }

// Shape returns a copy of the dataset shape.
func (ld LazyDataset) Shape() []int { return copyShape(ld.e.Shape) }

// Offset returns the absolute offset of the dataset data, relative to the
// start of the io.ReadSeeker.
func (ld LazyDataset) Offset() int64 {
	return ld.dataOffset + int64(ld.e.DataOffsets.Begin)
}

// Length returns the size in bytes of the dataset data.
func (ld LazyDataset) Length() uint64 { return ld.e.DataOffsets.Len() }

// Dataset converts the LazyDataset into a new Dataset, with data read,
// interpreted and loaded in memory.
func (ld LazyDataset) Dataset() (Dataset, error) {
	if err := ld.seekData(); err != nil {
		return Dataset{}, err
	}
	return readDataset(bufio.NewReader(io.LimitReader(ld.rs, int64(min(ld.Length(), math.MaxInt64)))), ld.e)
}

// ReadData reads and returns the raw encoded data of the dataset.
func (ld LazyDataset) ReadData() ([]byte, error) {
	size := ld.Length()
	if size == 0 {
		return nil, nil
	}
	if err := ld.seekData(); err != nil {
		return nil, err
	}
	data, err := header.ReadBytes(ld.rs, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset data: %w", err)
	}
	return data, nil
}

// WriteTo reads raw dataset data and copies it to the given io.Writer.
// This method satisfies io.WriterTo interface.
//
// Data is copied with io.CopyN, so, apart from an internal buffer, this
// function does not allocate the entire dataset's data in memory.
func (ld LazyDataset) WriteTo(w io.Writer) (int64, error) {
	size := ld.Length()
	if size == 0 {
		return 0, nil
	}
	if err := ld.seekData(); err != nil {
		return 0, err
	}
	return io.CopyN(w, ld.rs, int64(size))
}

func (ld LazyDataset) seekData() error {
	offset, err := checkedAddNonNegInt64(ld.dataOffset, int64(ld.e.DataOffsets.Begin))
	if err != nil {
		return fmt.Errorf("failed to calculate dataset data offset: %w", err)
	}
	if _, err = ld.rs.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to dataset data offset: %w", err)
	}
	return nil
}

var errInt64SumOverflow = errors.New("int64 sum overflow")

func checkedAddNonNegInt64(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("unexpected negative number")
	}
	if a == 0 || b == 0 {
		return a + b, nil
	}
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > math.MaxInt64 {
		return 0, errInt64SumOverflow
	}
	return int64(sum), nil
}
