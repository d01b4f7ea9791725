// Package autoexec runs the scripts of the auto-execute directory after a
// fresh attach.
package autoexec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/controller"
)

// Executor is the part of the connection manager the runner needs.
type Executor interface {
	Execute(ctx context.Context, script string) error
}

var scriptExtensions = map[string]bool{
	".lua": true,
	".txt": true,
}

type Runner struct {
	dir     string
	exec    Executor
	enabled atomic.Bool
	logger  *slog.Logger
}

func NewRunner(dir string, exec Executor, enabled bool, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default().With("component", "autoexec")
	}
	r := &Runner{dir: dir, exec: exec, logger: logger}
	r.enabled.Store(enabled)

	return r
}

func (r *Runner) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

func (r *Runner) Enabled() bool {
	return r.enabled.Load()
}

// Scripts lists the script files of the directory in name order. A missing
// directory yields no scripts.
func (r *Runner) Scripts() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read autoexec dir: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !scriptExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		out = append(out, filepath.Join(r.dir, entry.Name()))
	}
	sort.Strings(out)

	return out, nil
}

// Run executes every script once. It stops early when the executor rejects a
// script because the link is gone.
func (r *Runner) Run(ctx context.Context) (int, error) {
	scripts, err := r.Scripts()
	if err != nil {
		return 0, err
	}
	if len(scripts) == 0 {
		r.logger.Debug("no autoexec scripts", "dir", r.dir)
		return 0, nil
	}

	ran := 0
	var errs []error
	for _, path := range scripts {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		// #nosec G304 -- path comes from the app's own autoexec directory.
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", filepath.Base(path), err))
			continue
		}
		r.logger.Info("auto-executing script", "file", filepath.Base(path))
		if err := r.exec.Execute(ctx, string(raw)); err != nil {
			errs = append(errs, fmt.Errorf("execute %s: %w", filepath.Base(path), err))
			if errors.Is(err, controller.ErrNotAttached) {
				break
			}
			continue
		}
		ran++
	}

	return ran, errors.Join(errs...)
}

// Start runs the scripts after every attach whose outcome is Success. An
// AlreadyAttached outcome means the executor already ran them.
func (r *Runner) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(connectors.TopicConnStatus)

	go func() {
		defer b.Unsubscribe(sub, connectors.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.ConnectionStatus)
				if !ok {
					continue
				}
				if status.State != connectors.ConnectionStateConnected || status.Outcome != connectors.AttachSuccess {
					continue
				}
				if !r.Enabled() {
					continue
				}
				ran, err := r.Run(ctx)
				if err != nil {
					r.logger.Warn("autoexec finished with errors", "ran", ran, "error", err)
					continue
				}
				r.logger.Info("autoexec finished", "ran", ran, "session_id", status.SessionID)
			}
		}
	}()
}
