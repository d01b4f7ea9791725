package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

type notifyFunc func(title, message string, icon any) error

// DesktopSender shows payloads as native desktop notifications.
type DesktopSender struct {
	notify notifyFunc
	alert  notifyFunc
	logger *slog.Logger
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if name := strings.TrimSpace(appName); name != "" {
		beeep.AppName = name
	}

	return &DesktopSender{notify: beeep.Notify, alert: beeep.Alert, logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	if s == nil {
		return
	}

	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}

	show := s.notify
	if payload.Urgent && s.alert != nil {
		show = s.alert
	}
	if show == nil {
		return
	}
	if err := show(title, content, ""); err != nil {
		s.logger.Warn("desktop notification failed", "title", title, "urgent", payload.Urgent, "error", err)
	}
}
