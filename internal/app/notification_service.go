package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/config"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/notifications"
)

type noticeCategory int

const (
	noticeCategoryNone noticeCategory = iota
	noticeCategoryAttach
	noticeCategoryDetach
	noticeCategoryExecute
)

// NotificationService listens to controller notices and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	noticeSub := s.bus.Subscribe(connectors.TopicNotice)

	go func() {
		defer s.bus.Unsubscribe(noticeSub, connectors.TopicNotice)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-noticeSub:
				if !ok {
					return
				}
				notice, ok := raw.(connectors.Notice)
				if !ok {
					continue
				}
				s.handleNotice(notice)
			}
		}
	}()
}

func (s *NotificationService) handleNotice(notice connectors.Notice) {
	prefs := s.notificationPrefs()
	if !prefs.Desktop {
		return
	}

	switch categoryForNotice(notice.Kind) {
	case noticeCategoryAttach:
		if !prefs.Attach {
			return
		}
	case noticeCategoryDetach:
		if !prefs.Detach {
			return
		}
	case noticeCategoryExecute:
		if !prefs.Execute {
			return
		}
	default:
		return
	}

	content := strings.TrimSpace(notice.Text)
	if detail := strings.TrimSpace(notice.Detail); detail != "" {
		content = fmt.Sprintf("%s: %s", content, detail)
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", Name, BackendDisplayName(notice.Backend)),
		Content: content,
		Urgent:  urgentNotice(notice.Kind),
	})
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
		Urgent:  notification.Urgent,
	})
}

// Detaching is always followed by Detached or DetachFailed, so it is not shown.
func categoryForNotice(kind connectors.NoticeKind) noticeCategory {
	switch kind {
	case connectors.NoticeAttachSuccess,
		connectors.NoticeAlreadyAttached,
		connectors.NoticeAttachFailed,
		connectors.NoticeBackendSwitched:
		return noticeCategoryAttach
	case connectors.NoticeDetached,
		connectors.NoticeDetachFailed,
		connectors.NoticeLinkLost:
		return noticeCategoryDetach
	case connectors.NoticeExecuted,
		connectors.NoticeExecuteFailed,
		connectors.NoticeNotAttached:
		return noticeCategoryExecute
	default:
		return noticeCategoryNone
	}
}

// urgentNotice marks losses the user did not ask for.
func urgentNotice(kind connectors.NoticeKind) bool {
	return kind == connectors.NoticeLinkLost || kind == connectors.NoticeExecuteFailed
}

func BackendDisplayName(kind connectors.BackendKind) string {
	switch kind {
	case connectors.BackendNativeIPC:
		return "Native IPC"
	case connectors.BackendLoopbackHTTP:
		return "Loopback HTTP"
	default:
		if name := strings.TrimSpace(string(kind)); name != "" {
			return name
		}
		return "Unknown"
	}
}
