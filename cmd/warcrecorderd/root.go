package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warcrecorderd",
		Short: "Live HTTP capture and WARC archival daemon",
		Long:  `warcrecorderd records HTTP transactions flowing through a capture scope into WARC records, indexes them, and periodically republishes the index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults applied for any key it omits)")
	cmd.AddCommand(newServeCmd())
	return cmd
}
