package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var rootFlag string
	var backendFlag string

	ctx := newCommandContext(&rootFlag, &backendFlag)

	rootCmd := &cobra.Command{
		Use:           "execlink",
		Short:         "Attach to a running script executor and run scripts on it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Directory holding config, history and autoexec scripts")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Backend for this run: native_ipc or loopback_http")

	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newExecCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
