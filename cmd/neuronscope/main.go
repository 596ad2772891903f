// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command neuronscope builds neuron payloads and turns them into static
// browsable sites.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nlpodyssey/neuronscope/internal/config"
	"github.com/nlpodyssey/neuronscope/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at link time.
var version = "dev"

// app holds the state shared by all subcommands once the root command has
// loaded the configuration.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "neuronscope",
		Short: "Build neuron payloads and browse them as static sites",
		Long: `neuronscope packs per-neuron values of a neural network into a single
binary payload and renders it as a static site with one page per neuron.

A typical session:
  neuronscope build recipe.yaml -o model.nscp
  neuronscope inspect model.nscp --stats
  neuronscope generate model.nscp site/`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "configuration file (default "+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		a.newBuildCmd(),
		a.newInspectCmd(),
		a.newGenerateCmd(),
		a.newServeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	a.logger.Debug("configuration loaded", zap.String("path", a.configPath))
	return nil
}

func main() {
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
