package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "regionctl",
		Short:         "Operator tooling for the region processing queue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newPreviewCmd(), newMigrateCmd())
	return root
}
