package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/skobkin/execlink/internal/connectors"
)

const (
	DefaultHost                = "127.0.0.1"
	DefaultNativePortStart     = 5553
	DefaultNativePortEnd       = 5563
	DefaultHTTPPortStart       = 6969
	DefaultHTTPPortEnd         = 7070
	DefaultAttachIntervalMS    = 1000
	DefaultKeepAliveIntervalMS = 1000
	DefaultProbeTimeoutMS      = 2000
	DefaultDialTimeoutMS       = 250
	DefaultHistoryMaxEntries   = 5000
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	LogToFile bool   `toml:"log_to_file"`
}

// ConnectionConfig selects the executor backend and its discovery parameters.
type ConnectionConfig struct {
	Backend             connectors.BackendKind `toml:"backend"`
	Host                string                 `toml:"host"`
	NativePortStart     int                    `toml:"native_port_start"`
	NativePortEnd       int                    `toml:"native_port_end"`
	HTTPPortStart       int                    `toml:"http_port_start"`
	HTTPPortEnd         int                    `toml:"http_port_end"`
	AutoAttach          bool                   `toml:"auto_attach"`
	AutoExecute         bool                   `toml:"auto_execute"`
	AttachIntervalMS    int                    `toml:"attach_interval_ms"`
	KeepAliveIntervalMS int                    `toml:"keep_alive_interval_ms"`
	ProbeTimeoutMS      int                    `toml:"probe_timeout_ms"`
	DialTimeoutMS       int                    `toml:"dial_timeout_ms"`
}

func (c ConnectionConfig) AttachInterval() time.Duration {
	return time.Duration(c.AttachIntervalMS) * time.Millisecond
}

func (c ConnectionConfig) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalMS) * time.Millisecond
}

func (c ConnectionConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

func (c ConnectionConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Desktop bool `toml:"desktop"`
	Attach  bool `toml:"attach"`
	Detach  bool `toml:"detach"`
	Execute bool `toml:"execute"`
}

// HistoryConfig controls the persisted output log.
type HistoryConfig struct {
	Enabled    bool `toml:"enabled"`
	MaxEntries int  `toml:"max_entries"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `toml:"connection"`
	Logging       LoggingConfig      `toml:"logging"`
	Notifications NotificationConfig `toml:"notifications"`
	History       HistoryConfig      `toml:"history"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Backend:             connectors.BackendNativeIPC,
			Host:                DefaultHost,
			NativePortStart:     DefaultNativePortStart,
			NativePortEnd:       DefaultNativePortEnd,
			HTTPPortStart:       DefaultHTTPPortStart,
			HTTPPortEnd:         DefaultHTTPPortEnd,
			AutoAttach:          true,
			AutoExecute:         false,
			AttachIntervalMS:    DefaultAttachIntervalMS,
			KeepAliveIntervalMS: DefaultKeepAliveIntervalMS,
			ProbeTimeoutMS:      DefaultProbeTimeoutMS,
			DialTimeoutMS:       DefaultDialTimeoutMS,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Desktop: false,
			Attach:  true,
			Detach:  true,
			Execute: false,
		},
		History: HistoryConfig{
			Enabled:    true,
			MaxEntries: DefaultHistoryMaxEntries,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	decoder := toml.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config toml: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Backend == "" {
		c.Connection.Backend = connectors.BackendNativeIPC
	}
	if strings.TrimSpace(c.Connection.Host) == "" {
		c.Connection.Host = DefaultHost
	}
	if c.Connection.NativePortStart == 0 && c.Connection.NativePortEnd == 0 {
		c.Connection.NativePortStart = DefaultNativePortStart
		c.Connection.NativePortEnd = DefaultNativePortEnd
	}
	if c.Connection.HTTPPortStart == 0 && c.Connection.HTTPPortEnd == 0 {
		c.Connection.HTTPPortStart = DefaultHTTPPortStart
		c.Connection.HTTPPortEnd = DefaultHTTPPortEnd
	}
	if c.Connection.AttachIntervalMS <= 0 {
		c.Connection.AttachIntervalMS = DefaultAttachIntervalMS
	}
	if c.Connection.KeepAliveIntervalMS <= 0 {
		c.Connection.KeepAliveIntervalMS = DefaultKeepAliveIntervalMS
	}
	if c.Connection.ProbeTimeoutMS <= 0 {
		c.Connection.ProbeTimeoutMS = DefaultProbeTimeoutMS
	}
	if c.Connection.DialTimeoutMS <= 0 {
		c.Connection.DialTimeoutMS = DefaultDialTimeoutMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.History.MaxEntries < 0 {
		c.History.MaxEntries = 0
	}
}

func (c AppConfig) Validate() error {
	if !c.Connection.Backend.Valid() {
		return fmt.Errorf("unknown backend: %s", c.Connection.Backend)
	}
	if strings.TrimSpace(c.Connection.Host) == "" {
		return errors.New("host is required")
	}
	if err := validatePorts("native", c.Connection.NativePortStart, c.Connection.NativePortEnd); err != nil {
		return err
	}
	if err := validatePorts("http", c.Connection.HTTPPortStart, c.Connection.HTTPPortEnd); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}

	return nil
}

func validatePorts(name string, start, end int) error {
	if start <= 0 || end > 65536 {
		return fmt.Errorf("%s port range [%d, %d) is out of bounds", name, start, end)
	}
	if end <= start {
		return fmt.Errorf("%s port range [%d, %d) is empty", name, start, end)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
