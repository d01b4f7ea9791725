package app

import (
	"fmt"
	"log/slog"

	"github.com/skobkin/execlink/internal/backend"
	"github.com/skobkin/execlink/internal/config"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/controller"
	"github.com/skobkin/execlink/internal/transport"
)

// Backends owns both executor transports and the adapters built on them.
type Backends struct {
	cfg      config.ConnectionConfig
	native   *transport.NativeClient
	loopback *transport.LoopbackClient
	adapters []backend.Adapter
}

// NewBackends builds one adapter per backend kind from the connection config.
// componentLogger may be nil.
func NewBackends(cfg config.ConnectionConfig, componentLogger func(string) *slog.Logger) (*Backends, error) {
	if componentLogger == nil {
		componentLogger = func(component string) *slog.Logger {
			return slog.Default().With("component", component)
		}
	}

	nativePorts := backend.PortRange{Start: cfg.NativePortStart, End: cfg.NativePortEnd}
	if err := nativePorts.Validate(); err != nil {
		return nil, fmt.Errorf("native backend: %w", err)
	}
	httpPorts := backend.PortRange{Start: cfg.HTTPPortStart, End: cfg.HTTPPortEnd}
	if err := httpPorts.Validate(); err != nil {
		return nil, fmt.Errorf("loopback backend: %w", err)
	}

	native := transport.NewNativeClient(cfg.Host, cfg.DialTimeout())
	loopback := transport.NewLoopbackClient(cfg.Host, cfg.ProbeTimeout())
	loopback.SetUserAgent(UserAgent())

	return &Backends{
		cfg:      cfg,
		native:   native,
		loopback: loopback,
		adapters: []backend.Adapter{
			backend.NewNativeAdapter(componentLogger("backend.native"), native, nativePorts),
			backend.NewLoopbackAdapter(componentLogger("backend.loopback"), loopback, httpPorts),
		},
	}, nil
}

func (b *Backends) Adapters() []backend.Adapter {
	return b.adapters
}

func (b *Backends) Config() config.ConnectionConfig {
	return b.cfg
}

// Close drops a native link left open after the manager was closed.
func (b *Backends) Close() error {
	if b == nil || b.native == nil || !b.native.Connected() {
		return nil
	}

	return b.native.Detach()
}

// ControllerOptions maps the connection config onto manager options.
func ControllerOptions(cfg config.ConnectionConfig) controller.Options {
	return controller.Options{
		Backend:           cfg.Backend,
		AutoAttach:        cfg.AutoAttach,
		AttachInterval:    cfg.AttachInterval(),
		KeepAliveInterval: cfg.KeepAliveInterval(),
	}
}

// DiscoveryTarget describes where a backend looks for the executor.
func DiscoveryTarget(cfg config.ConnectionConfig, kind connectors.BackendKind) string {
	switch kind {
	case connectors.BackendNativeIPC:
		return fmt.Sprintf("%s ports %s", cfg.Host, backend.PortRange{Start: cfg.NativePortStart, End: cfg.NativePortEnd})
	case connectors.BackendLoopbackHTTP:
		return fmt.Sprintf("http://%s ports %s", cfg.Host, backend.PortRange{Start: cfg.HTTPPortStart, End: cfg.HTTPPortEnd})
	default:
		return cfg.Host
	}
}

// ConnectionTarget is the human readable form of a status: the remembered
// endpoint when attached, else the discovery target.
func ConnectionTarget(cfg config.ConnectionConfig, status connectors.ConnectionStatus) string {
	if status.State == connectors.ConnectionStateConnected && status.Endpoint != "" {
		return status.Endpoint
	}
	kind := status.Backend
	if kind == "" {
		kind = cfg.Backend
	}

	return DiscoveryTarget(cfg, kind)
}
