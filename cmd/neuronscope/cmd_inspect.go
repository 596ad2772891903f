// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/scalar"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func (a *app) newInspectCmd() *cobra.Command {
	var withStats bool
	cmd := &cobra.Command{
		Use:   "inspect PAYLOAD",
		Short: "List the datasets of a payload",
		Long: `Reads the payload header and prints one row per dataset. With --stats, the
data of every F32 dataset is read to report its minimum, maximum and mean,
ignoring NaN values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			lp, err := neuronscope.OpenLazy(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return inspect(cmd.OutOrStdout(), lp, withStats)
		},
	}
	cmd.Flags().BoolVar(&withStats, "stats", false, "report min, max and mean of F32 datasets")
	return cmd
}

func inspect(w io.Writer, lp *neuronscope.LazyPayload, withStats bool) error {
	fmt.Fprintf(w, "model:       %s\n", lp.ModelSize())
	fmt.Fprintf(w, "data offset: %d\n", lp.DataOffset())
	fmt.Fprintf(w, "data length: %d\n", lp.DataLen())
	if key, ok := lp.RankKey(); ok {
		fmt.Fprintf(w, "rank key:    %s\n", key)
	}
	if text, ok := lp.Template(); ok {
		fmt.Fprintf(w, "template:    %d bytes\n", len(text))
	}
	fmt.Fprintln(w)

	head := []string{"KEY", "TYPE", "SCOPE", "SHAPE", "OFFSET", "LENGTH"}
	if withStats {
		head = append(head, "MIN", "MAX", "MEAN")
	}
	var data [][]string
	for _, key := range lp.Keys() {
		ld, _ := lp.LazyDataset(key)
		row := []string{
			key,
			ld.ScalarType().String(),
			ld.Scope().String(),
			formatShape(ld.Shape()),
			strconv.FormatInt(ld.Offset(), 10),
			strconv.FormatUint(ld.Length(), 10),
		}
		if withStats {
			s, err := datasetStats(ld)
			if err != nil {
				return err
			}
			row = append(row, s...)
		}
		data = append(data, row)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(head)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func formatShape(shp []int) string {
	dims := make([]string, len(shp))
	for i, d := range shp {
		dims[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(dims, " ") + "]"
}

// datasetStats returns the min, max and mean cells of a row. Non-F32
// datasets and datasets without non-NaN values get "-".
func datasetStats(ld neuronscope.LazyDataset) ([]string, error) {
	none := []string{"-", "-", "-"}
	if ld.ScalarType() != scalar.Float32 {
		return none, nil
	}
	ds, err := ld.Dataset()
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", ld.Key(), err)
	}
	values, _ := ds.Float32s()
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(float64(v)) {
			x = append(x, float64(v))
		}
	}
	if len(x) == 0 {
		return none, nil
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
	return []string{
		format(floats.Min(x)),
		format(floats.Max(x)),
		format(stat.Mean(x, nil)),
	}, nil
}
