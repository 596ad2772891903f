// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/site"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const watchDebounce = 200 * time.Millisecond

func (a *app) newGenerateCmd() *cobra.Command {
	var (
		workers       int
		indexTemplate string
		title         string
		watch         bool
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "generate PAYLOAD DIR",
		Short: "Generate a static site from a payload",
		Long: `Renders an index page and one page per neuron into DIR. The previous
contents of DIR, if it holds a generated site, are replaced atomically.
Any other non-empty DIR is refused unless --force is given.
With --watch, the site is regenerated whenever the payload file changes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("workers") {
				a.cfg.Site.Workers = workers
			}
			if flags.Changed("title") {
				a.cfg.Site.Title = title
			}
			if flags.Changed("index-template") {
				a.cfg.Site.IndexTemplate = indexTemplate
			}
			opts, err := a.cfg.SiteOptions()
			if err != nil {
				return err
			}
			opts = append(opts, site.WithLogger(a.logger))
			if force {
				opts = append(opts, site.WithOverwrite())
			}

			payloadPath, dir := args[0], args[1]
			gen := func(ctx context.Context) error {
				p, err := neuronscope.ReadFile(payloadPath)
				if err != nil {
					return err
				}
				return site.Generate(ctx, dir, p, opts...)
			}
			if err := gen(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %s\n", dir)
			if !watch {
				return nil
			}
			return watchFile(cmd.Context(), payloadPath, a.logger, gen)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&workers, "workers", 0, "pages rendered in parallel (default GOMAXPROCS)")
	flags.StringVar(&indexTemplate, "index-template", "", "template file rendered at the top of the index page")
	flags.StringVar(&title, "title", site.DefaultTitle, "site title")
	flags.BoolVar(&watch, "watch", false, "regenerate when the payload changes")
	flags.BoolVarP(&force, "force", "f", false, "replace DIR even if it does not hold a generated site")
	return cmd
}

// watchFile calls fn after every change to the file at path, until ctx is
// canceled. Bursts of events closer than watchDebounce trigger a single
// call. The parent directory is watched, so that files replaced by rename
// keep being observed. Errors from fn are logged.
func watchFile(ctx context.Context, path string, logger *zap.Logger, fn func(context.Context) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Info("watching for changes", zap.String("path", abs))

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Debug("payload changed", zap.Stringer("op", event.Op))
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			if _, err := os.Stat(abs); err != nil {
				logger.Warn("payload unavailable", zap.Error(err))
				continue
			}
			if err := fn(ctx); err != nil {
				logger.Error("regeneration failed", zap.Error(err))
				continue
			}
			logger.Info("site regenerated")
		}
	}
}
