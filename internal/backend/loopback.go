package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/transport"
)

// DefaultLoopbackPorts is the port range scanned for the HTTP executor.
var DefaultLoopbackPorts = PortRange{Start: 6969, End: 7070}

// Prober is the HTTP surface used by LoopbackAdapter.
type Prober interface {
	Probe(ctx context.Context, port int) (bool, error)
	Execute(ctx context.Context, port int, script string) error
	Endpoint(port int) string
}

// LoopbackAdapter locates the HTTP executor by probing a port range and
// remembers the matching port as its endpoint.
type LoopbackAdapter struct {
	client Prober
	ports  PortRange
	logger *slog.Logger

	mu   sync.Mutex
	port int
}

func NewLoopbackAdapter(logger *slog.Logger, client Prober, ports PortRange) *LoopbackAdapter {
	if logger == nil {
		logger = slog.Default().With("component", "backend")
	}
	if ports.Len() == 0 {
		ports = DefaultLoopbackPorts
	}

	return &LoopbackAdapter{
		client: client,
		ports:  ports,
		logger: logger.With("backend", connectors.BackendLoopbackHTTP),
	}
}

func (a *LoopbackAdapter) Kind() connectors.BackendKind {
	return connectors.BackendLoopbackHTTP
}

func (a *LoopbackAdapter) Discover(ctx context.Context) connectors.AttachOutcome {
	for port := a.ports.Start; port < a.ports.End; port++ {
		if err := ctx.Err(); err != nil {
			a.logger.Debug("discovery canceled", "port", port, "error", err)
			return connectors.AttachFailed
		}

		ok, err := a.client.Probe(ctx, port)
		if err != nil {
			if transport.IsConnectionRefused(err) {
				a.logger.Debug("candidate refused", "port", port)
			} else {
				a.logger.Warn("probe failed", "port", port, "error", err)
			}
			continue
		}
		if !ok {
			a.logger.Debug("candidate is not an executor", "port", port)
			continue
		}

		a.mu.Lock()
		a.port = port
		a.mu.Unlock()
		a.logger.Info("attached", "port", port)

		return connectors.AttachSuccess
	}
	a.logger.Info("no executor found", "ports", a.ports.String())

	return connectors.AttachFailed
}

func (a *LoopbackAdapter) Detach(_ context.Context) error {
	a.Reset()

	return nil
}

func (a *LoopbackAdapter) Execute(ctx context.Context, script string) error {
	port := a.Port()
	if port == 0 {
		return ErrNotAttached
	}
	if err := a.client.Execute(ctx, port, script); err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	return nil
}

// KeepAlive repeats the discovery probe against the remembered port only.
func (a *LoopbackAdapter) KeepAlive(ctx context.Context) bool {
	port := a.Port()
	if port == 0 {
		return false
	}

	ok, err := a.client.Probe(ctx, port)
	if err != nil {
		if transport.IsConnectionRefused(err) || ctx.Err() != nil {
			a.logger.Debug("keep-alive probe failed", "port", port, "error", err)
		} else {
			a.logger.Warn("keep-alive probe failed", "port", port, "error", err)
		}
		return false
	}

	return ok
}

func (a *LoopbackAdapter) Reset() {
	a.mu.Lock()
	a.port = 0
	a.mu.Unlock()
}

// Port returns the remembered port, or 0 when detached.
func (a *LoopbackAdapter) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.port
}

func (a *LoopbackAdapter) Endpoint() string {
	port := a.Port()
	if port == 0 {
		return ""
	}

	return a.client.Endpoint(port)
}
