package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/execlink/internal/autoexec"
	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/config"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/controller"
	"github.com/skobkin/execlink/internal/logging"
	"github.com/skobkin/execlink/internal/notifications"
	"github.com/skobkin/execlink/internal/persistence"
	"github.com/skobkin/execlink/internal/transport"
)

const shutdownTimeout = 3 * time.Second

// InitOptions adjusts a runtime for one process without touching the saved config.
type InitOptions struct {
	// RootDir replaces the per-user config directory when set.
	RootDir string
	// Backend overrides the configured backend when set.
	Backend connectors.BackendKind
	// DisableAutoAttach keeps the auto-attach timer off for one-shot commands.
	DisableAutoAttach bool
	// Console receives log output; stderr when nil.
	Console io.Writer
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	LogRepo     *persistence.LogRepo
	WriterQueue *persistence.WriterQueue

	Backends      *Backends
	Manager       *controller.Manager
	Autoexec      *autoexec.Runner
	Notifications *NotificationService

	startOnce sync.Once
}

// RestartRequiredWarning reports saved connection settings that only take
// effect after the process restarts.
type RestartRequiredWarning struct {
	Keys []string
}

func (w *RestartRequiredWarning) Error() string {
	return "restart required to apply: " + strings.Join(w.Keys, ", ")
}

func Initialize(parent context.Context, opts InitOptions) (*Runtime, error) {
	var (
		paths Paths
		err   error
	)
	if opts.RootDir != "" {
		paths, err = PathsIn(opts.RootDir)
	} else {
		paths, err = ResolvePaths()
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", paths.ConfigFile, err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager(opts.Console)
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	transport.SetLogger(logMgr.Logger("transport"))
	slog.Info("starting execlink runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.DB = db
	rt.LogRepo = persistence.NewLogRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), 512)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	if cfg.History.Enabled {
		persistence.StartHistoryProjection(ctx, b, writerQueue, rt.LogRepo, cfg.History.MaxEntries, logMgr.Logger("persistence.history"))
	}

	backends, err := NewBackends(cfg.Connection, logMgr.Logger)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize backends: %w", err)
	}
	rt.Backends = backends

	managerOpts := ControllerOptions(cfg.Connection)
	if opts.Backend != "" {
		managerOpts.Backend = opts.Backend
	}
	if opts.DisableAutoAttach {
		managerOpts.AutoAttach = false
	}
	manager, err := controller.New(logMgr.Logger("controller"), b, backends.Adapters(), managerOpts)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize connection manager: %w", err)
	}
	rt.Manager = manager

	rt.Autoexec = autoexec.NewRunner(paths.AutoexecDir, manager, cfg.Connection.AutoExecute, logMgr.Logger("autoexec"))

	var sender notifications.Sender
	if cfg.Notifications.Desktop {
		sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
	}
	rt.Notifications = NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))

	return rt, nil
}

// Start subscribes the background services and arms the connection timers.
func (r *Runtime) Start() {
	r.startOnce.Do(func() {
		r.Notifications.Start(r.Ctx)
		r.Autoexec.Start(r.Ctx, r.Bus)
		r.Manager.Start(r.Ctx)
	})
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

func (r *Runtime) SaveAndApplyConfig(ctx context.Context, cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.Config
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}
	transport.SetLogger(r.LogManager.Logger("transport"))

	if r.Autoexec != nil {
		r.Autoexec.SetEnabled(cfg.Connection.AutoExecute)
	}
	if r.Manager != nil {
		r.Manager.SetAutoAttach(cfg.Connection.AutoAttach)
		if cfg.Connection.Backend != r.Manager.Backend() {
			if err := r.Manager.SwitchBackend(ctx, cfg.Connection.Backend); err != nil {
				return fmt.Errorf("switch backend: %w", err)
			}
		}
	}

	if keys := restartKeys(prev, cfg); len(keys) > 0 {
		slog.Warn("saved settings apply after restart", "keys", keys)
		return &RestartRequiredWarning{Keys: keys}
	}

	return nil
}

func restartKeys(prev, next config.AppConfig) []string {
	var keys []string
	p, n := prev.Connection, next.Connection
	if p.Host != n.Host {
		keys = append(keys, "connection.host")
	}
	if p.NativePortStart != n.NativePortStart || p.NativePortEnd != n.NativePortEnd {
		keys = append(keys, "connection.native_port_*")
	}
	if p.HTTPPortStart != n.HTTPPortStart || p.HTTPPortEnd != n.HTTPPortEnd {
		keys = append(keys, "connection.http_port_*")
	}
	if p.AttachIntervalMS != n.AttachIntervalMS || p.KeepAliveIntervalMS != n.KeepAliveIntervalMS {
		keys = append(keys, "connection.*_interval_ms")
	}
	if p.ProbeTimeoutMS != n.ProbeTimeoutMS || p.DialTimeoutMS != n.DialTimeoutMS {
		keys = append(keys, "connection.*_timeout_ms")
	}
	if prev.History != next.History {
		keys = append(keys, "history")
	}
	if prev.Notifications.Desktop != next.Notifications.Desktop {
		keys = append(keys, "notifications.desktop")
	}

	return keys
}

// ClearHistory waits for pending history writes and empties the output log.
func (r *Runtime) ClearHistory(ctx context.Context) error {
	if r.WriterQueue != nil {
		if err := r.WriterQueue.Flush(ctx); err != nil {
			return fmt.Errorf("flush history writes: %w", err)
		}
	}
	removed, err := r.LogRepo.Clear(ctx, "")
	if err != nil {
		return err
	}
	slog.Info("history cleared", "removed", removed)

	return nil
}

func (r *Runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if r.Manager != nil {
		if err := r.Manager.Close(ctx); err != nil && !errors.Is(err, controller.ErrNotAttached) {
			errs = append(errs, fmt.Errorf("close connection manager: %w", err))
		}
	}
	// Links go down before the bus so no output pump publishes after Shutdown.
	if r.Backends != nil {
		_ = r.Backends.Close()
	}
	if r.WriterQueue != nil {
		if err := r.WriterQueue.Flush(ctx); err != nil {
			slog.Warn("flush history writes", "error", err)
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		transport.SetLogger(nil)
		_ = r.LogManager.Close()
	}

	return errors.Join(errs...)
}
