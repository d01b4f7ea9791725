package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/transport"
)

// DefaultNativePorts is the port range scanned for the native executor.
var DefaultNativePorts = PortRange{Start: 5553, End: 5563}

// NativeAdapter drives the native IPC command surface. The IPC layer keeps its
// own link, so nothing port-specific is remembered here.
type NativeAdapter struct {
	surface transport.CommandSurface
	ports   PortRange
	logger  *slog.Logger
}

func NewNativeAdapter(logger *slog.Logger, surface transport.CommandSurface, ports PortRange) *NativeAdapter {
	if logger == nil {
		logger = slog.Default().With("component", "backend")
	}
	if ports.Len() == 0 {
		ports = DefaultNativePorts
	}

	return &NativeAdapter{
		surface: surface,
		ports:   ports,
		logger:  logger.With("backend", connectors.BackendNativeIPC),
	}
}

func (a *NativeAdapter) Kind() connectors.BackendKind {
	return connectors.BackendNativeIPC
}

func (a *NativeAdapter) Discover(ctx context.Context) connectors.AttachOutcome {
	for port := a.ports.Start; port < a.ports.End; port++ {
		if err := ctx.Err(); err != nil {
			a.logger.Debug("discovery canceled", "port", port, "error", err)
			return connectors.AttachFailed
		}

		err := a.surface.Attach(ctx, port)
		switch {
		case err == nil:
			a.logger.Info("attached", "port", port)
			return connectors.AttachSuccess
		case errors.Is(err, transport.ErrConnectionRefused):
			a.logger.Debug("candidate refused", "port", port)
		case errors.Is(err, transport.ErrAlreadyInjected):
			a.logger.Info("already attached", "port", port)
			return connectors.AttachAlreadyAttached
		default:
			a.logger.Warn("attach candidate failed", "port", port, "error", err)
		}
	}
	a.logger.Info("no executor found", "ports", a.ports.String())

	return connectors.AttachFailed
}

func (a *NativeAdapter) Detach(_ context.Context) error {
	err := a.surface.Detach()
	if err == nil || errors.Is(err, transport.ErrNotInjected) {
		return nil
	}
	a.logger.Warn("detach failed", "error", err)

	return fmt.Errorf("detach: %w", err)
}

func (a *NativeAdapter) Execute(ctx context.Context, script string) error {
	err := a.surface.Execute(ctx, script)
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrNotInjected) {
		return fmt.Errorf("%w: %w", ErrLinkLost, err)
	}

	return fmt.Errorf("execute: %w", err)
}

func (a *NativeAdapter) UpdateSetting(ctx context.Context, key, value string) error {
	err := a.surface.UpdateSetting(ctx, key, value)
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrNotInjected) {
		return fmt.Errorf("%w: %w", ErrLinkLost, err)
	}

	return fmt.Errorf("update setting %q: %w", key, err)
}

func (a *NativeAdapter) BindListener(l transport.Listener) {
	if binder, ok := a.surface.(interface{ SetListener(transport.Listener) }); ok {
		binder.SetListener(l)
	}
}

func (a *NativeAdapter) Reset() {}

func (a *NativeAdapter) Endpoint() string {
	return ""
}
