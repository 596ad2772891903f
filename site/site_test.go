// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// readTree returns the content of every regular file below root, by
// slash-separated relative path.
func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		files[filepath.ToSlash(rel)] = b
		return err
	})
	require.NoError(t, err)
	return files
}

func TestGenerate(t *testing.T) {
	p := newTestPayload(t, "<p>{{score}} {{tokens|labels=names}}</p>")
	dir := filepath.Join(t.TempDir(), "site")

	err := Generate(context.Background(), dir, p, WithWorkers(4), WithLogger(zap.NewNop()), WithTitle("Test"))
	require.NoError(t, err)

	files := readTree(t, dir)
	expected := []string{
		"index.html", "manifest.json", "payload.nscp", "static/style.css", "static/viewer.js",
		"L0/N0.html", "L0/N1.html", "L0/N2.html", "L1/N0.html", "L1/N1.html", "L1/N2.html",
	}
	assert.Len(t, files, len(expected))
	for _, name := range expected {
		assert.Contains(t, files, name)
	}

	decoded, err := neuronscope.ReadFile(filepath.Join(dir, PayloadFile))
	require.NoError(t, err)
	assert.True(t, p.Equal(decoded))

	assert.Contains(t, string(files["L1/N2.html"]), "<p>0.3 <table")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())
}

func TestGenerate_Deterministic(t *testing.T) {
	p := newTestPayload(t, "<p>{{grid}}</p>")
	root := t.TempDir()
	a, b := filepath.Join(root, "a"), filepath.Join(root, "b")

	require.NoError(t, Generate(context.Background(), a, p, WithWorkers(1)))
	require.NoError(t, Generate(context.Background(), b, p, WithWorkers(16)))
	first := readTree(t, a)
	assert.Equal(t, first, readTree(t, b))

	// regenerating replaces the previous site
	require.NoError(t, Generate(context.Background(), a, p, WithWorkers(3)))
	assert.Equal(t, first, readTree(t, a))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 2, "no temporary directory must be left behind")
}

func TestGenerate_ErrorsLeaveOutputUntouched(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))
	before := readTree(t, dir)

	err := Generate(context.Background(), dir, newTestPayload(t, "{{missing}}"))
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	assert.Equal(t, before, readTree(t, dir))

	err = Generate(context.Background(), dir, newTestPayload(t, ""), WithIndexTemplate("{{@neuron}}"))
	assert.ErrorIs(t, err, ErrScopeMismatch)
	assert.Equal(t, before, readTree(t, dir))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Generate(ctx, dir, newTestPayload(t, ""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, readTree(t, dir))

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerate_CanceledMidwayLeavesOutputUntouched(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{}"), 0o644))
	before := readTree(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancel once the first layer has been handed to the workers
	layers := 0
	core, _ := observer.New(zap.DebugLevel)
	logger := zap.New(zapcore.RegisterHooks(core, func(e zapcore.Entry) error {
		if e.Message == "rendering layer" {
			layers++
			if layers == 2 {
				cancel()
			}
		}
		return nil
	}))

	err := Generate(ctx, dir, newTestPayload(t, ""), WithWorkers(1), WithLogger(logger))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, layers)
	assert.Equal(t, before, readTree(t, dir))

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerate_TemplateErrorWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")
	err := Generate(context.Background(), dir, newTestPayload(t, "{{tokens[5]}}"))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = os.Stat(dir)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGenerate_NotSiteDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0o644))

	err := Generate(context.Background(), dir, newTestPayload(t, ""))
	assert.ErrorIs(t, err, ErrNotSiteDir)
	b, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(b))
}

func TestGenerate_Overwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("replace me"), 0o644))

	require.NoError(t, Generate(context.Background(), dir, newTestPayload(t, ""), WithOverwrite()))
	_, err := os.Stat(filepath.Join(dir, IndexFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGenerate_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Generate(context.Background(), dir, newTestPayload(t, "")))
	_, err := os.Stat(filepath.Join(dir, IndexFile))
	assert.NoError(t, err)
}

func TestManifest(t *testing.T) {
	p := newTestPayload(t, "{{score}}")
	encoded, err := neuronscope.Marshal(p)
	require.NoError(t, err)

	m, err := NewManifest(encoded)
	require.NoError(t, err)
	b, err := m.MarshalIndent()
	require.NoError(t, err)

	actual := Manifest{Datasets: orderedmap.New[string, ManifestDataset]()}
	require.NoError(t, json.Unmarshal(b, &actual))

	assert.Equal(t, uint32(1), actual.FormatVersion)
	assert.Equal(t, PayloadFile, actual.Payload)
	assert.Equal(t, uint32(2), actual.NumLayers)
	assert.Equal(t, uint32(3), actual.NumNeurons)
	assert.Equal(t, "score", actual.RankKey)
	assert.True(t, actual.HasTemplate)

	id, err := uuid.Parse(actual.PayloadID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), id.Version())
	again, err := NewManifest(bytes.Clone(encoded))
	require.NoError(t, err)
	assert.Equal(t, actual.PayloadID, again.PayloadID)

	var keys []string
	for pair := actual.Datasets.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
		ds, ok := p.Dataset(pair.Key)
		require.True(t, ok)

		var want bytes.Buffer
		_, err := ds.WriteTo(&want)
		require.NoError(t, err)

		md := pair.Value
		assert.Equal(t, ds.ScalarType(), md.Type)
		assert.Equal(t, ds.Scope(), md.Scope)
		assert.Equal(t, uint64(want.Len()), md.Length)
		assert.Equal(t, want.Bytes(), encoded[md.Offset:md.Offset+int64(md.Length)], pair.Key)
	}
	assert.Equal(t, p.Keys(), keys)

	title, ok := actual.Datasets.Get("title")
	require.True(t, ok)
	assert.Equal(t, []int{}, title.Shape)
	assert.Equal(t, ManifestDataset{Type: scalar.Utf8String, Scope: shape.Global, Shape: []int{}, Offset: title.Offset, Length: 15}, title)
	assert.Contains(t, string(b), `"type": "STR"`)
	assert.Contains(t, string(b), `"scope": "global"`)
}
