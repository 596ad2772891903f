// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ingest

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/x448/float16"
)

const (
	metadataKey = "__metadata__"
	// MaxHeaderSize is the largest JSON header accepted from a
	// safetensors file.
	MaxHeaderSize = 100 << 20
)

var (
	// ErrInvalidTensorFile is returned when a safetensors file cannot be
	// parsed or its header does not describe its data.
	ErrInvalidTensorFile = errors.New("invalid safetensors file")
	// ErrUnknownTensor is returned when a tensor is not in the file.
	ErrUnknownTensor = errors.New("unknown tensor")
	// ErrOutOfRange is returned when an integer tensor element does not fit
	// an unsigned 32-bit value.
	ErrOutOfRange = errors.New("value out of uint32 range")
)

// TensorInfo describes one tensor of a safetensors file. Begin and End are
// relative to the start of the byte buffer.
type TensorInfo struct {
	Name  string
	DType DType
	Shape []int
	Begin int64
	End   int64
}

// NumElements returns the product of the shape dimensions.
func (ti TensorInfo) NumElements() int {
	n := 1
	for _, d := range ti.Shape {
		n *= d
	}
	return n
}

// TensorFile gives random access to the tensors of a safetensors file.
// It is safe for concurrent use if the underlying io.ReaderAt is.
type TensorFile struct {
	r          io.ReaderAt
	dataOffset int64
	tensors    map[string]TensorInfo
	metadata   map[string]string
}

type rawDecodedHeader map[string]map[string]any

// NewTensorFile reads and validates the header of a safetensors file of
// the given size.
func NewTensorFile(r io.ReaderAt, size int64) (*TensorFile, error) {
	sr := io.NewSectionReader(r, 0, size)

	var arr [8]byte
	if _, err := io.ReadFull(sr, arr[:]); err != nil {
		return nil, invalid("failed to read header size: %v", err)
	}
	hs := binary.LittleEndian.Uint64(arr[:])
	switch {
	case hs < 2: // a bare minimum header is "{}"
		return nil, invalid("header size too small: %d", hs)
	case hs > MaxHeaderSize:
		return nil, invalid("header size too large: %d", hs)
	case int64(hs) > size-8:
		return nil, invalid("header size %d exceeds file size %d", hs, size)
	}

	raw, err := readAndDecodeJSON(sr, int64(hs))
	if err != nil {
		return nil, invalid("failed to JSON-decode header: %v", err)
	}

	tf := &TensorFile{r: r, dataOffset: 8 + int64(hs)}
	if rawMeta, ok := raw[metadataKey]; ok {
		delete(raw, metadataKey)
		if tf.metadata, err = convertRawMetadata(rawMeta); err != nil {
			return nil, invalid("%v", err)
		}
	}
	if tf.tensors, err = convertRawTensors(raw); err != nil {
		return nil, invalid("%v", err)
	}
	if err := tf.validate(size - tf.dataOffset); err != nil {
		return nil, invalid("%v", err)
	}
	return tf, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTensorFile, fmt.Sprintf(format, args...))
}

func readAndDecodeJSON(r io.Reader, size int64) (rawDecodedHeader, error) {
	dec := json.NewDecoder(&io.LimitedReader{R: r, N: size})
	dec.UseNumber()

	var raw rawDecodedHeader
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	// padding spaces may follow the JSON object
	if off := dec.InputOffset(); off != size {
		if _, err := dec.Token(); err == nil {
			return nil, fmt.Errorf("unexpected data at byte offset %d", off)
		} else if err != io.EOF {
			return nil, err
		}
	}
	return raw, nil
}

func convertRawMetadata(raw map[string]any) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(raw))
	for key, rawVal := range raw {
		var ok bool
		if metadata[key], ok = rawVal.(string); !ok {
			return nil, fmt.Errorf("found non-string metadata value for key %q", key)
		}
	}
	return metadata, nil
}

func convertRawTensors(raw rawDecodedHeader) (map[string]TensorInfo, error) {
	tensors := make(map[string]TensorInfo, len(raw))
	for name, rawVal := range raw {
		t, err := convertRawTensor(name, rawVal)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		tensors[name] = t
	}
	return tensors, nil
}

func convertRawTensor(name string, raw map[string]any) (t TensorInfo, err error) {
	t.Name = name
	rawDType, ok := raw["dtype"].(string)
	if !ok {
		return t, errors.New(`"dtype" is missing or not a string`)
	}
	if t.DType, err = ParseDType(rawDType); err != nil {
		return t, err
	}
	if t.Shape, err = convertIntArray(raw, "shape", -1); err != nil {
		return t, err
	}
	offsets, err := convertIntArray(raw, "data_offsets", 2)
	if err != nil {
		return t, err
	}
	t.Begin, t.End = int64(offsets[0]), int64(offsets[1])
	if len(raw) != 3 {
		return t, errors.New("JSON object contains unknown keys")
	}
	return t, nil
}

func convertIntArray(raw map[string]any, field string, wantLen int) ([]int, error) {
	rawVal, ok := raw[field]
	if !ok {
		return nil, fmt.Errorf("%q is missing", field)
	}
	rawSlice, ok := rawVal.([]any)
	if !ok {
		return nil, fmt.Errorf("found non-array %q value", field)
	}
	if wantLen >= 0 && len(rawSlice) != wantLen {
		return nil, fmt.Errorf("bad %q length: expected %d, actual %d", field, wantLen, len(rawSlice))
	}
	out := make([]int, len(rawSlice))
	for i, item := range rawSlice {
		jNum, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%q value at index %d is not a number", field, i)
		}
		n, err := strconv.ParseInt(jNum.String(), 10, 32)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%q value at index %d is not a non-negative int32: %s", field, i, jNum)
		}
		out[i] = int(n)
	}
	return out, nil
}

// validate checks that the tensors tile the byte buffer contiguously and
// that each one spans exactly dtype size × elements bytes.
func (tf *TensorFile) validate(bufLen int64) error {
	infos := make([]TensorInfo, 0, len(tf.tensors))
	for _, t := range tf.tensors {
		infos = append(infos, t)
	}
	slices.SortFunc(infos, func(a, b TensorInfo) int {
		if c := cmp.Compare(a.Begin, b.Begin); c != 0 {
			return c
		}
		return cmp.Compare(a.End, b.End)
	})

	var end int64
	for _, t := range infos {
		if t.Begin != end {
			return fmt.Errorf("tensor %q: data offsets are not contiguous: begin %d, expected %d", t.Name, t.Begin, end)
		}
		if t.End < t.Begin {
			return fmt.Errorf("tensor %q: end offset %d precedes begin offset %d", t.Name, t.End, t.Begin)
		}
		numel := int64(1)
		for _, d := range t.Shape {
			if d != 0 && numel > math.MaxInt32/int64(d) {
				return fmt.Errorf("tensor %q: too many elements", t.Name)
			}
			numel *= int64(d)
		}
		if want := numel * int64(t.DType.Size()); t.End-t.Begin != want {
			return fmt.Errorf("tensor %q: byte length %d does not match %s%v (%d bytes)",
				t.Name, t.End-t.Begin, t.DType, t.Shape, want)
		}
		end = t.End
	}
	if end != bufLen {
		return fmt.Errorf("byte buffer length %d does not match tensor data length %d", bufLen, end)
	}
	return nil
}

// Names returns the tensor names in ascending order.
func (tf *TensorFile) Names() []string {
	names := make([]string, 0, len(tf.tensors))
	for name := range tf.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tensor returns the description of the named tensor.
func (tf *TensorFile) Tensor(name string) (TensorInfo, bool) {
	t, ok := tf.tensors[name]
	if ok {
		t.Shape = slices.Clone(t.Shape)
	}
	return t, ok
}

// Metadata returns the value of a "__metadata__" entry.
func (tf *TensorFile) Metadata(key string) (string, bool) {
	v, ok := tf.metadata[key]
	return v, ok
}

// Float32s reads the named floating point tensor, converting its elements
// to float32.
func (tf *TensorFile) Float32s(name string) ([]float32, error) {
	t, b, err := tf.read(name)
	if err != nil {
		return nil, err
	}
	out := make([]float32, t.NumElements())
	switch t.DType {
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
		}
	case BF16:
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(b[i*2:])) << 16)
		}
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case F64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
		}
	default:
		return nil, fmt.Errorf("tensor %q: cannot convert %s to float32", name, t.DType)
	}
	return out, nil
}

// Uint32s reads the named integer or boolean tensor, converting its
// elements to uint32. Negative values and values above math.MaxUint32 fail
// with ErrOutOfRange.
func (tf *TensorFile) Uint32s(name string) ([]uint32, error) {
	t, b, err := tf.read(name)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, t.NumElements())
	for i := range out {
		var v int64
		switch t.DType {
		case Bool:
			if b[i] > 1 {
				return nil, fmt.Errorf("tensor %q: invalid boolean byte %d at element %d", name, b[i], i)
			}
			v = int64(b[i])
		case U8:
			v = int64(b[i])
		case I8:
			v = int64(int8(b[i]))
		case U16:
			v = int64(binary.LittleEndian.Uint16(b[i*2:]))
		case I16:
			v = int64(int16(binary.LittleEndian.Uint16(b[i*2:])))
		case U32:
			v = int64(binary.LittleEndian.Uint32(b[i*4:]))
		case I32:
			v = int64(int32(binary.LittleEndian.Uint32(b[i*4:])))
		case I64:
			v = int64(binary.LittleEndian.Uint64(b[i*8:]))
		case U64:
			u := binary.LittleEndian.Uint64(b[i*8:])
			if u > math.MaxUint32 {
				return nil, fmt.Errorf("%w: tensor %q element %d: %d", ErrOutOfRange, name, i, u)
			}
			v = int64(u)
		default:
			return nil, fmt.Errorf("tensor %q: cannot convert %s to uint32", name, t.DType)
		}
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: tensor %q element %d: %d", ErrOutOfRange, name, i, v)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func (tf *TensorFile) read(name string) (TensorInfo, []byte, error) {
	t, ok := tf.tensors[name]
	if !ok {
		return t, nil, fmt.Errorf("%w: %q", ErrUnknownTensor, name)
	}
	b := make([]byte, t.End-t.Begin)
	if n, err := tf.r.ReadAt(b, tf.dataOffset+t.Begin); n < len(b) {
		return t, nil, fmt.Errorf("failed to read tensor %q: %w", name, err)
	}
	return t, b, nil
}
