package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/execlink/internal/app"
	"github.com/skobkin/execlink/internal/connectors"
)

type scriptSource struct {
	name string
	body string
}

func newExecCommand(ctx *commandContext) *cobra.Command {
	var listenFor time.Duration

	cmd := &cobra.Command{
		Use:   "exec FILE...",
		Short: "Attach, run the given scripts and print executor output",
		Long:  "Attach to a running executor, submit each script in order and print its output. Use - to read a script from stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts, err := readScripts(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			rt, err := ctx.initRuntime(cmd, true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sub := rt.Bus.Subscribe(connectors.TopicNotice, connectors.TopicLogMessage)
			printed := eventPrinter{out: out, cfg: rt.Config.Connection, colorize: shouldColorize(out)}.run(sub)
			defer func() {
				_ = rt.Close()
				<-printed
			}()
			rt.Start()

			outcome, err := rt.Manager.RequestAttach(cmd.Context())
			if err != nil {
				return fmt.Errorf("attach: %w", err)
			}
			if !outcome.Attached() {
				return fmt.Errorf("no running executor found on %s", app.ConnectionTarget(rt.Config.Connection, rt.Manager.Status()))
			}

			for _, script := range scripts {
				if err := rt.Manager.Execute(cmd.Context(), script.body); err != nil {
					return fmt.Errorf("execute %s: %w", script.name, err)
				}
			}

			if listenFor > 0 {
				select {
				case <-cmd.Context().Done():
				case <-time.After(listenFor):
				}
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&listenFor, "listen-for", 2*time.Second, "How long to keep printing output after the last script, e.g. 30s")
	return cmd
}

func readScripts(stdin io.Reader, args []string) ([]scriptSource, error) {
	scripts := make([]scriptSource, 0, len(args))
	readStdin := false
	for _, arg := range args {
		if arg == "-" {
			if readStdin {
				return nil, errors.New("stdin can only be used once")
			}
			readStdin = true
			raw, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			scripts = append(scripts, scriptSource{name: "stdin", body: string(raw)})
			continue
		}

		// #nosec G304 -- the user names the script files on the command line.
		raw, err := os.ReadFile(filepath.Clean(arg))
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		scripts = append(scripts, scriptSource{name: filepath.Base(arg), body: string(raw)})
	}

	return scripts, nil
}
