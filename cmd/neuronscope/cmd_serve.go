// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"

	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/server"
	"github.com/spf13/cobra"
)

func (a *app) newServeCmd() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "serve PAYLOAD",
		Short: "Serve a payload as a site, rendering pages on demand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			p, err := neuronscope.ReadFile(args[0])
			if err != nil {
				return err
			}
			siteOpts, err := a.cfg.SiteOptions()
			if err != nil {
				return err
			}
			s, err := server.New(p,
				server.WithLogger(a.logger),
				server.WithSiteOptions(siteOpts...))
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", a.cfg.Server.Host)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on http://%s\n", args[0], ln.Addr())
			return s.Serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "address to listen on (default from configuration)")
	return cmd
}
