package main

import (
	"github.com/spf13/cobra"
)

var sinkKind string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture scope, sink, and index snapshotter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, sinkKind)
		},
	}
	cmd.Flags().StringVar(&sinkKind, "sink", "file", `which RecorderSink variant to use: "file", "per-record", or "content-addressed"`)
	return cmd
}
