package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/skobkin/execlink/internal/connectors"
)

type setter func(cfg *AppConfig, value string) error

var setters = map[string]setter{
	"connection.backend": func(cfg *AppConfig, value string) error {
		kind := connectors.BackendKind(value)
		if !kind.Valid() {
			return fmt.Errorf("unknown backend: %s", value)
		}
		cfg.Connection.Backend = kind
		return nil
	},
	"connection.host": func(cfg *AppConfig, value string) error {
		cfg.Connection.Host = value
		return nil
	},
	"connection.native_port_start":      intSetter(func(c *AppConfig) *int { return &c.Connection.NativePortStart }),
	"connection.native_port_end":        intSetter(func(c *AppConfig) *int { return &c.Connection.NativePortEnd }),
	"connection.http_port_start":        intSetter(func(c *AppConfig) *int { return &c.Connection.HTTPPortStart }),
	"connection.http_port_end":          intSetter(func(c *AppConfig) *int { return &c.Connection.HTTPPortEnd }),
	"connection.auto_attach":            boolSetter(func(c *AppConfig) *bool { return &c.Connection.AutoAttach }),
	"connection.auto_execute":           boolSetter(func(c *AppConfig) *bool { return &c.Connection.AutoExecute }),
	"connection.attach_interval_ms":     intSetter(func(c *AppConfig) *int { return &c.Connection.AttachIntervalMS }),
	"connection.keep_alive_interval_ms": intSetter(func(c *AppConfig) *int { return &c.Connection.KeepAliveIntervalMS }),
	"connection.probe_timeout_ms":       intSetter(func(c *AppConfig) *int { return &c.Connection.ProbeTimeoutMS }),
	"connection.dial_timeout_ms":        intSetter(func(c *AppConfig) *int { return &c.Connection.DialTimeoutMS }),
	"logging.level": func(cfg *AppConfig, value string) error {
		cfg.Logging.Level = value
		return nil
	},
	"logging.log_to_file":   boolSetter(func(c *AppConfig) *bool { return &c.Logging.LogToFile }),
	"notifications.desktop": boolSetter(func(c *AppConfig) *bool { return &c.Notifications.Desktop }),
	"notifications.attach":  boolSetter(func(c *AppConfig) *bool { return &c.Notifications.Attach }),
	"notifications.detach":  boolSetter(func(c *AppConfig) *bool { return &c.Notifications.Detach }),
	"notifications.execute": boolSetter(func(c *AppConfig) *bool { return &c.Notifications.Execute }),
	"history.enabled":       boolSetter(func(c *AppConfig) *bool { return &c.History.Enabled }),
	"history.max_entries":   intSetter(func(c *AppConfig) *int { return &c.History.MaxEntries }),
}

// Set assigns a dotted key such as "connection.backend" from its string form
// and validates the result.
func (c *AppConfig) Set(key, value string) error {
	return c.SetAll(key, value)
}

// SetAll applies KEY VALUE pairs in order and validates once at the end, so
// related keys such as a port range can move together. On error c is left
// unchanged.
func (c *AppConfig) SetAll(pairs ...string) error {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return fmt.Errorf("expected KEY VALUE pairs, got %d arguments", len(pairs))
	}

	next := *c
	keys := make([]string, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, value := pairs[i], pairs[i+1]
		apply, ok := setters[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return fmt.Errorf("unknown config key: %s", key)
		}
		if err := apply(&next, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("set %s: %w", strings.Join(keys, ", "), err)
	}
	*c = next

	return nil
}

// Keys lists every key accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for key := range setters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

func intSetter(field func(*AppConfig) *int) setter {
	return func(cfg *AppConfig, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse integer: %w", err)
		}
		*field(cfg) = n
		return nil
	}
}

func boolSetter(field func(*AppConfig) *bool) setter {
	return func(cfg *AppConfig, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse bool: %w", err)
		}
		*field(cfg) = b
		return nil
	}
}
