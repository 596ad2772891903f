// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/ingest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) newBuildCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build RECIPE",
		Short: "Build a payload from a YAML recipe",
		Long: `Reads a recipe naming the model size, a safetensors file and the datasets
to extract from it, and writes the encoded payload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ingest.Load(args[0], ingest.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if err := neuronscope.WriteFile(out, p); err != nil {
				return err
			}
			a.logger.Info("payload written", zap.String("path", out))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d datasets, %s model\n", out, p.Len(), p.ModelSize())
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "payload file to write")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
