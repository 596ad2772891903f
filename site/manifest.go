// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/header"
	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/nlpodyssey/neuronscope/shape"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// File names within a generated site.
const (
	IndexFile    = "index.html"
	ManifestFile = "manifest.json"
	PayloadFile  = "payload.nscp"
	StaticDir    = "static"
)

// payloadNamespace scopes the name-based UUIDs identifying payloads.
var payloadNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/nlpodyssey/neuronscope/payload"))

// Manifest describes the payload file of a site, so that a client can
// fetch individual datasets with HTTP range requests.
type Manifest struct {
	FormatVersion uint32 `json:"format_version"`
	Payload       string `json:"payload"`
	// PayloadID is derived from the payload bytes: equal payloads have
	// equal IDs.
	PayloadID   string `json:"payload_id"`
	NumLayers   uint32 `json:"num_layers"`
	NumNeurons  uint32 `json:"num_neurons"`
	DataOffset  int64  `json:"data_offset"`
	RankKey     string `json:"rank_key,omitempty"`
	HasTemplate bool   `json:"has_template"`
	// Datasets are listed in directory order.
	Datasets *orderedmap.OrderedMap[string, ManifestDataset] `json:"datasets"`
}

// ManifestDataset locates one dataset within the payload file.
type ManifestDataset struct {
	Type  scalar.Type `json:"type"`
	Scope shape.Scope `json:"scope"`
	Shape []int       `json:"shape"`
	// Offset is the absolute byte offset of the data in the payload file.
	Offset int64  `json:"offset"`
	Length uint64 `json:"length"`
}

// NewManifest builds the manifest of an encoded payload.
func NewManifest(encoded []byte) (*Manifest, error) {
	lp, err := neuronscope.OpenLazy(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	size := lp.ModelSize()
	_, hasTemplate := lp.Template()
	rankKey, _ := lp.RankKey()

	m := &Manifest{
		FormatVersion: header.Version,
		Payload:       PayloadFile,
		PayloadID:     uuid.NewSHA1(payloadNamespace, encoded).String(),
		NumLayers:     size.NumLayers,
		NumNeurons:    size.NumNeurons,
		DataOffset:    lp.DataOffset(),
		RankKey:       rankKey,
		HasTemplate:   hasTemplate,
		Datasets:      orderedmap.New[string, ManifestDataset](),
	}
	for _, key := range lp.Keys() {
		ld, _ := lp.LazyDataset(key)
		shp := ld.Shape()
		if shp == nil {
			shp = []int{}
		}
		m.Datasets.Set(key, ManifestDataset{
			Type:   ld.ScalarType(),
			Scope:  ld.Scope(),
			Shape:  shp,
			Offset: ld.Offset(),
			Length: ld.Length(),
		})
	}
	return m, nil
}

// MarshalIndent returns the JSON encoding of the manifest, indented and
// terminated by a newline.
func (m *Manifest) MarshalIndent() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(b, '\n'), nil
}
