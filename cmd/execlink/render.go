package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/skobkin/execlink/internal/app"
	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/config"
	"github.com/skobkin/execlink/internal/connectors"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(line, color string, colorize bool) string {
	if !colorize || color == "" {
		return line
	}
	return color + line + ansiReset
}

func renderNotice(notice connectors.Notice, colorize bool) string {
	line := fmt.Sprintf("[%s] %s", app.BackendDisplayName(notice.Backend), strings.TrimSpace(notice.Text))
	if detail := strings.TrimSpace(notice.Detail); detail != "" {
		line += ": " + detail
	}
	return paint(line, noticeColor(notice.Kind), colorize)
}

func noticeColor(kind connectors.NoticeKind) string {
	switch kind {
	case connectors.NoticeAttachSuccess, connectors.NoticeAlreadyAttached, connectors.NoticeExecuted, connectors.NoticeDetached:
		return ansiGreen
	case connectors.NoticeAttachFailed, connectors.NoticeDetachFailed, connectors.NoticeExecuteFailed, connectors.NoticeLinkLost:
		return ansiRed
	case connectors.NoticeNotAttached:
		return ansiYellow
	default:
		return ansiBlue
	}
}

// renderLogMessage prints executor output as is; error output is prefixed so
// it stays visible without colour.
func renderLogMessage(msg connectors.LogMessage, colorize bool) string {
	text := strings.TrimRight(msg.Text, "\r\n")
	if msg.Kind == connectors.LogKindError {
		return paint("error: "+text, ansiRed, colorize)
	}
	return text
}

func renderStatus(cfg config.ConnectionConfig, status connectors.ConnectionStatus, colorize bool) string {
	line := fmt.Sprintf("%s: %s (%s)", app.BackendDisplayName(status.Backend), status.State, app.ConnectionTarget(cfg, status))
	if reason := strings.TrimSpace(status.Err); reason != "" {
		line += ": " + reason
	}

	color := ansiBlue
	switch status.State {
	case connectors.ConnectionStateConnected:
		color = ansiGreen
	case connectors.ConnectionStateDisconnected:
		if status.Err != "" {
			color = ansiYellow
		}
	}
	return paint(line, color, colorize)
}

type eventPrinter struct {
	out      io.Writer
	cfg      config.ConnectionConfig
	colorize bool
	// statuses also prints connection state transitions.
	statuses bool
}

// run prints events from sub until the bus closes it. The returned channel is
// closed once printing stopped.
func (p eventPrinter) run(sub bus.Subscription) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for raw := range sub {
			var line string
			switch event := raw.(type) {
			case connectors.Notice:
				line = renderNotice(event, p.colorize)
			case connectors.LogMessage:
				line = renderLogMessage(event, p.colorize)
			case connectors.ConnectionStatus:
				if !p.statuses {
					continue
				}
				line = renderStatus(p.cfg, event, p.colorize)
			default:
				continue
			}
			fmt.Fprintln(p.out, line)
		}
	}()

	return done
}
