package transport

import (
	"log/slog"
	"sync/atomic"
)

var baseLogger atomic.Pointer[slog.Logger]

// SetLogger routes transport logs through l. nil restores slog.Default.
func SetLogger(l *slog.Logger) {
	baseLogger.Store(l)
}

func transportLogger(backend string, attrs ...any) *slog.Logger {
	base := baseLogger.Load()
	if base == nil {
		base = slog.Default().With("component", "transport")
	}

	return base.With(append([]any{"backend", backend}, attrs...)...)
}
