// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

type testTensor struct {
	name  string
	dtype string
	shape []int
	data  []byte
}

func encodeSafetensors(t *testing.T, meta map[string]string, tensors ...testTensor) []byte {
	t.Helper()
	hdr := make(map[string]any)
	if meta != nil {
		hdr[metadataKey] = meta
	}
	var data []byte
	for _, tt := range tensors {
		hdr[tt.name] = map[string]any{
			"dtype":        tt.dtype,
			"shape":        tt.shape,
			"data_offsets": []int{len(data), len(data) + len(tt.data)},
		}
		data = append(data, tt.data...)
	}
	js, err := json.Marshal(hdr)
	require.NoError(t, err)
	return rawSafetensors(string(js), data)
}

func rawSafetensors(header string, data []byte) []byte {
	for len(header)%8 != 0 {
		header += " "
	}
	out := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	out = append(out, header...)
	return append(out, data...)
}

func le16(vs ...uint16) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

func le32(vs ...uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func le64(vs ...uint64) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	return b
}

func f16(vs ...float32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint16(b, float16.Fromfloat32(v).Bits())
	}
	return b
}

func openTensors(t *testing.T, b []byte) *TensorFile {
	t.Helper()
	tf, err := NewTensorFile(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	return tf
}

func TestDType(t *testing.T) {
	for dt := Bool; dt <= F64; dt++ {
		parsed, err := ParseDType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, parsed)
		assert.Positive(t, dt.Size())
	}
	_, err := ParseDType("C64")
	assert.Error(t, err)
	assert.Equal(t, "DType(99)", DType(99).String())
	assert.Zero(t, DType(0).Size())

	assert.Equal(t, scalar.Float32, BF16.ScalarType())
	assert.Equal(t, scalar.Float32, F64.ScalarType())
	assert.Equal(t, scalar.UInt32, Bool.ScalarType())
	assert.Equal(t, scalar.UInt32, I64.ScalarType())
}

func TestTensorFile(t *testing.T) {
	b := encodeSafetensors(t, map[string]string{"format": "pt"},
		testTensor{"half", "F16", []int{2}, f16(1.5, -0.25)},
		testTensor{"brain", "BF16", []int{2}, le16(0x3fc0, 0xc000)},
		testTensor{"single", "F32", []int{1, 2}, le32(math.Float32bits(0.1), math.Float32bits(float32(math.Inf(-1))))},
		testTensor{"double", "F64", []int{}, le64(math.Float64bits(2.5))},
		testTensor{"mask", "BOOL", []int{3}, []byte{1, 0, 1}},
		testTensor{"small", "I8", []int{2}, []byte{0x7f, 0}},
		testTensor{"short", "U16", []int{1}, le16(65535)},
		testTensor{"long", "I64", []int{2}, le64(7, math.MaxUint32)},
		testTensor{"empty", "U32", []int{0, 4}, nil},
	)
	tf := openTensors(t, b)

	assert.Equal(t, []string{"brain", "double", "empty", "half", "long", "mask", "short", "single", "small"}, tf.Names())

	format, ok := tf.Metadata("format")
	assert.True(t, ok)
	assert.Equal(t, "pt", format)

	info, ok := tf.Tensor("single")
	require.True(t, ok)
	assert.Equal(t, F32, info.DType)
	assert.Equal(t, []int{1, 2}, info.Shape)
	assert.Equal(t, 2, info.NumElements())

	_, ok = tf.Tensor("missing")
	assert.False(t, ok)

	floatCases := map[string][]float32{
		"half":   {1.5, -0.25},
		"brain":  {1.5, -2},
		"single": {0.1, float32(math.Inf(-1))},
		"double": {2.5},
	}
	for name, expected := range floatCases {
		actual, err := tf.Float32s(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, actual, name)
	}

	uintCases := map[string][]uint32{
		"mask":  {1, 0, 1},
		"small": {127, 0},
		"short": {65535},
		"long":  {7, math.MaxUint32},
		"empty": {},
	}
	for name, expected := range uintCases {
		actual, err := tf.Uint32s(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, actual, name)
	}

	_, err := tf.Float32s("mask")
	assert.Error(t, err)
	_, err = tf.Uint32s("half")
	assert.Error(t, err)
	_, err = tf.Float32s("missing")
	assert.ErrorIs(t, err, ErrUnknownTensor)
}

func TestTensorFile_OutOfRange(t *testing.T) {
	b := encodeSafetensors(t, nil,
		testTensor{"negative8", "I8", []int{1}, []byte{0xff}},
		testTensor{"negative32", "I32", []int{1}, le32(0x80000000)},
		testTensor{"negative64", "I64", []int{1}, le64(math.MaxUint64)},
		testTensor{"big64", "U64", []int{2}, le64(1, math.MaxUint32+1)},
		testTensor{"bigI64", "I64", []int{1}, le64(math.MaxUint32 + 1)},
		testTensor{"badBool", "BOOL", []int{1}, []byte{2}},
	)
	tf := openTensors(t, b)
	for _, name := range []string{"negative8", "negative32", "negative64", "big64", "bigI64"} {
		_, err := tf.Uint32s(name)
		assert.ErrorIs(t, err, ErrOutOfRange, name)
	}
	_, err := tf.Uint32s("badBool")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutOfRange)
}

func TestNewTensorFile_Errors(t *testing.T) {
	testCases := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"short size", []byte{1, 2, 3}},
		{"header too small", binary.LittleEndian.AppendUint64(nil, 1)},
		{"header beyond file", binary.LittleEndian.AppendUint64([]byte{}, 64)},
		{"not json", rawSafetensors("nope", nil)},
		{"trailing json", rawSafetensors(`{}{}`, nil)},
		{"bad dtype", rawSafetensors(`{"a":{"dtype":"C64","shape":[1],"data_offsets":[0,8]}}`, make([]byte, 8))},
		{"missing shape", rawSafetensors(`{"a":{"dtype":"U8","data_offsets":[0,1]}}`, []byte{0})},
		{"negative dim", rawSafetensors(`{"a":{"dtype":"U8","shape":[-1],"data_offsets":[0,1]}}`, []byte{0})},
		{"float dim", rawSafetensors(`{"a":{"dtype":"U8","shape":[1.5],"data_offsets":[0,1]}}`, []byte{0})},
		{"short offsets", rawSafetensors(`{"a":{"dtype":"U8","shape":[1],"data_offsets":[0]}}`, []byte{0})},
		{"unknown key", rawSafetensors(`{"a":{"dtype":"U8","shape":[1],"data_offsets":[0,1],"x":1}}`, []byte{0})},
		{"metadata not string", rawSafetensors(`{"__metadata__":{"a":1}}`, nil)},
		{"length mismatch", rawSafetensors(`{"a":{"dtype":"U16","shape":[1],"data_offsets":[0,1]}}`, []byte{0})},
		{"gap", rawSafetensors(`{"a":{"dtype":"U8","shape":[1],"data_offsets":[1,2]}}`, []byte{0, 0})},
		{"overlap", rawSafetensors(`{"a":{"dtype":"U8","shape":[2],"data_offsets":[0,2]},"b":{"dtype":"U8","shape":[1],"data_offsets":[1,2]}}`, []byte{0, 0})},
		{"end before begin", rawSafetensors(`{"a":{"dtype":"U8","shape":[0],"data_offsets":[1,0]}}`, []byte{0})},
		{"extra data", rawSafetensors(`{"a":{"dtype":"U8","shape":[1],"data_offsets":[0,1]}}`, []byte{0, 0})},
		{"missing data", rawSafetensors(`{"a":{"dtype":"U8","shape":[2],"data_offsets":[0,2]}}`, []byte{0})},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTensorFile(bytes.NewReader(tc.b), int64(len(tc.b)))
			assert.ErrorIs(t, err, ErrInvalidTensorFile)
		})
	}
}

func TestNewTensorFile_EmptyHeader(t *testing.T) {
	tf := openTensors(t, rawSafetensors("{}", nil))
	assert.Empty(t, tf.Names())
	_, ok := tf.Metadata("format")
	assert.False(t, ok)
}
