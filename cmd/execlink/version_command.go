package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/execlink/internal/app"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", app.Name, app.BuildVersionWithDate())
			return nil
		},
	}
}
