package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/execlink/internal/app"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Look for a running executor once and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.initRuntime(cmd, true)
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()

			cfg := rt.Config.Connection
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanning %s\n", app.DiscoveryTarget(cfg, rt.Manager.Backend()))

			outcome, err := rt.Manager.RequestAttach(cmd.Context())
			if err != nil {
				return fmt.Errorf("attach: %w", err)
			}
			fmt.Fprintln(out, renderStatus(cfg, rt.Manager.Status(), shouldColorize(out)))
			if !outcome.Attached() {
				return errors.New("no running executor found")
			}

			return nil
		},
	}
}
