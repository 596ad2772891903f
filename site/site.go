// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package site generates a static HTML site from a payload: an index page,
// one page per neuron, a manifest and a copy of the encoded payload.
package site

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nlpodyssey/neuronscope"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Generate writes the site of p into dir.
//
// Templates are checked before anything is written. The site is built in a
// temporary sibling directory which then replaces dir, so a failed or
// canceled generation leaves any previous content of dir untouched.
// Pages are rendered in parallel; the output does not depend on the
// number of workers and is identical across runs.
//
// An existing dir is only replaced if it is empty or holds a manifest,
// otherwise ErrNotSiteDir is returned unless WithOverwrite is given.
func Generate(ctx context.Context, dir string, p *neuronscope.Payload, opts ...Option) (err error) {
	r, err := NewRenderer(p, opts...)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if !r.opts.overwrite {
		if err = checkOutputDir(dir); err != nil {
			return err
		}
	}

	log := r.opts.logger.With(zap.String("dir", dir))
	start := time.Now()

	parent, base := filepath.Split(filepath.Clean(dir))
	if parent == "" {
		parent = "."
	}
	if err = os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()
	if err = os.Chmod(tmp, 0o755); err != nil {
		return err
	}

	if err = writeAssets(tmp, p); err != nil {
		return err
	}
	if err = writeFile(filepath.Join(tmp, IndexFile), r.WriteIndex); err != nil {
		return fmt.Errorf("failed to write index page: %w", err)
	}
	if err = r.writeNeuronPages(ctx, tmp); err != nil {
		return err
	}
	if err = swapDir(tmp, dir); err != nil {
		return err
	}

	size := p.ModelSize()
	log.Info("site generated",
		zap.Uint32("layers", size.NumLayers),
		zap.Uint32("neurons", size.NumNeurons),
		zap.Int("datasets", p.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Renderer) writeNeuronPages(parent context.Context, root string) error {
	size := r.payload.ModelSize()
	for l := range int(size.NumLayers) {
		if err := os.Mkdir(filepath.Join(root, fmt.Sprintf("L%d", l)), 0o755); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(parent)
	g.SetLimit(r.opts.workers)
	for l := range int(size.NumLayers) {
		r.opts.logger.Debug("rendering layer", zap.Int("layer", l))
		for n := range int(size.NumNeurons) {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				name := filepath.Join(root, filepath.FromSlash(NeuronPath(l, n)))
				err := writeFile(name, func(w io.Writer) error {
					return r.WriteNeuronPage(w, l, n)
				})
				if err != nil {
					return fmt.Errorf("failed to write page of layer %d neuron %d: %w", l, n, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return parent.Err()
}

func writeAssets(root string, p *neuronscope.Payload) error {
	encoded, err := neuronscope.Marshal(p)
	if err != nil {
		return err
	}
	if err = os.WriteFile(filepath.Join(root, PayloadFile), encoded, 0o644); err != nil {
		return err
	}

	m, err := NewManifest(encoded)
	if err != nil {
		return err
	}
	mb, err := m.MarshalIndent()
	if err != nil {
		return err
	}
	if err = os.WriteFile(filepath.Join(root, ManifestFile), mb, 0o644); err != nil {
		return err
	}

	if err = os.Mkdir(filepath.Join(root, StaticDir), 0o755); err != nil {
		return err
	}
	return fs.WalkDir(StaticFS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := fs.ReadFile(StaticFS(), path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(root, StaticDir, filepath.FromSlash(path)), b, 0o644)
	})
}

func writeFile(name string, write func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err = write(bw); err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func checkOutputDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if _, err = os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
		return fmt.Errorf("%w: %s", ErrNotSiteDir, dir)
	}
	return nil
}

// swapDir moves tmp into place of dir. A previous dir is moved aside first
// and restored if the final rename fails.
func swapDir(tmp, dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(tmp, dir)
	}
	old := tmp + ".old"
	if err := os.Rename(dir, old); err != nil {
		return err
	}
	if err := os.Rename(tmp, dir); err != nil {
		_ = os.Rename(old, dir)
		return err
	}
	return os.RemoveAll(old)
}
