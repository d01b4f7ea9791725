package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skobkin/execlink/internal/app"
	"github.com/skobkin/execlink/internal/connectors"
)

type commandContext struct {
	rootFlag    *string
	backendFlag *string
}

func newCommandContext(rootFlag, backendFlag *string) *commandContext {
	return &commandContext{
		rootFlag:    rootFlag,
		backendFlag: backendFlag,
	}
}

func (c *commandContext) rootDir() string {
	if c.rootFlag == nil {
		return ""
	}

	return strings.TrimSpace(*c.rootFlag)
}

func (c *commandContext) paths() (app.Paths, error) {
	if root := c.rootDir(); root != "" {
		return app.PathsIn(root)
	}

	return app.ResolvePaths()
}

func (c *commandContext) backendOverride() (connectors.BackendKind, error) {
	if c.backendFlag == nil {
		return "", nil
	}
	raw := strings.TrimSpace(*c.backendFlag)
	if raw == "" {
		return "", nil
	}
	kind := connectors.BackendKind(raw)
	if !kind.Valid() {
		return "", fmt.Errorf("unknown backend %q (want %s or %s)", raw, connectors.BackendNativeIPC, connectors.BackendLoopbackHTTP)
	}

	return kind, nil
}

// initRuntime builds a runtime whose logs go to the command's stderr. The
// caller owns Close.
func (c *commandContext) initRuntime(cmd *cobra.Command, disableAutoAttach bool) (*app.Runtime, error) {
	kind, err := c.backendOverride()
	if err != nil {
		return nil, err
	}

	rt, err := app.Initialize(cmd.Context(), app.InitOptions{
		RootDir:           c.rootDir(),
		Backend:           kind,
		DisableAutoAttach: disableAutoAttach,
		Console:           cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize runtime: %w", err)
	}

	return rt, nil
}
