package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/execlink/internal/app"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/platform"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var listenFor time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay attached to the executor and print its output",
		Long:  "Keep the connection manager running: auto-attach while detached, keep-alive while attached, autoexec after each fresh attach and desktop notifications per config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := platform.AcquireInstanceLock(app.Name)
			if err != nil {
				if errors.Is(err, platform.ErrInstanceAlreadyRunning) {
					return fmt.Errorf("another %s watch is already running", app.Name)
				}
				return err
			}
			defer func() {
				_ = lock.Release()
			}()

			rt, err := ctx.initRuntime(cmd, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sub := rt.Bus.Subscribe(connectors.TopicConnStatus, connectors.TopicNotice, connectors.TopicLogMessage)
			printed := eventPrinter{out: out, cfg: rt.Config.Connection, colorize: shouldColorize(out), statuses: true}.run(sub)
			defer func() {
				_ = rt.Close()
				<-printed
			}()
			rt.Start()

			fmt.Fprintf(out, "Watching %s\n", app.DiscoveryTarget(rt.Config.Connection, rt.Manager.Backend()))
			if rt.Manager.AutoAttach() {
				// The timer only fires after one interval; try right away.
				if _, err := rt.Manager.RequestAttach(cmd.Context()); err != nil {
					rt.LogManager.Logger("cli").Debug("initial attach", "error", err)
				}
			}

			if listenFor > 0 {
				select {
				case <-cmd.Context().Done():
				case <-time.After(listenFor):
				}
				return nil
			}
			<-cmd.Context().Done()

			return nil
		},
	}

	cmd.Flags().DurationVar(&listenFor, "listen-for", 0, "Stop after this duration instead of waiting for an interrupt, e.g. 30s")
	return cmd
}
