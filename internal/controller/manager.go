// Package controller owns the executor attach lifecycle: backend selection,
// discovery, keep-alive and auto-attach timers, and output delivery.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/execlink/internal/backend"
	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/output"
)

const (
	DefaultAttachInterval    = time.Second
	DefaultKeepAliveInterval = time.Second
)

var (
	ErrNotAttached          = errors.New("not attached")
	ErrTransitionInProgress = errors.New("attach or detach already in progress")
	ErrUnsupported          = errors.New("operation is not supported by the active backend")
	ErrUnknownBackend       = errors.New("unknown backend")
	ErrClosed               = errors.New("connection manager is closed")
)

type Options struct {
	Backend           connectors.BackendKind
	AutoAttach        bool
	AttachInterval    time.Duration
	KeepAliveInterval time.Duration
}

type event struct {
	topic   string
	payload any
}

// Manager is the single owner of the connection state. State changes happen
// under mu; adapter discover/detach calls are serialized on opMu. Events are
// published outside mu but in transition order: the publisher takes emitMu
// before releasing mu.
type Manager struct {
	logger      *slog.Logger
	bus         bus.MessageBus
	adapters    map[connectors.BackendKind]backend.Adapter
	reassembler *output.Reassembler

	attachInterval    time.Duration
	keepAliveInterval time.Duration

	opMu   sync.Mutex
	emitMu sync.Mutex

	mu              sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	started         bool
	closed          bool
	state           connectors.ConnectionState
	kind            connectors.BackendKind
	generation      uint64
	sessionID       string
	endpoint        string
	autoAttach      bool
	autoCancel      context.CancelFunc
	keepAliveCancel context.CancelFunc
}

func New(logger *slog.Logger, b bus.MessageBus, adapters []backend.Adapter, opts Options) (*Manager, error) {
	if logger == nil {
		logger = slog.Default().With("component", "controller")
	}
	if b == nil {
		return nil, errors.New("message bus is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one backend adapter is required")
	}

	m := &Manager{
		logger:            logger,
		bus:               b,
		adapters:          make(map[connectors.BackendKind]backend.Adapter, len(adapters)),
		attachInterval:    opts.AttachInterval,
		keepAliveInterval: opts.KeepAliveInterval,
		ctx:               context.Background(),
		state:             connectors.ConnectionStateDisconnected,
		kind:              opts.Backend,
		autoAttach:        opts.AutoAttach,
	}
	if m.attachInterval <= 0 {
		m.attachInterval = DefaultAttachInterval
	}
	if m.keepAliveInterval <= 0 {
		m.keepAliveInterval = DefaultKeepAliveInterval
	}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		m.adapters[adapter.Kind()] = adapter
	}
	if m.kind == "" {
		m.kind = adapters[0].Kind()
	}
	if _, ok := m.adapters[m.kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, m.kind)
	}

	m.reassembler = output.NewReassembler(logger.With("stage", "reassembler"), m.deliver)
	for _, adapter := range m.adapters {
		if binder, ok := adapter.(backend.ListenerBinder); ok {
			binder.BindListener(m)
		}
	}

	return m, nil
}

// Start arms the timers. Timers never outlive ctx or Close.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.syncTimersLocked()
	m.logger.Info("connection manager started", "backend", m.kind, "auto_attach", m.autoAttach)
}

// Close stops the timers and detaches from a connected executor.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.state == connectors.ConnectionStateConnecting {
		m.generation++
		m.state = connectors.ConnectionStateDisconnected
	}
	m.syncTimersLocked()
	connected := m.state == connectors.ConnectionStateConnected
	m.mu.Unlock()

	var err error
	if connected {
		err = m.RequestDetach(ctx)
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	return err
}

func (m *Manager) Status() connectors.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.statusLocked(connectors.AttachFailed, "")
}

func (m *Manager) State() connectors.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) Backend() connectors.BackendKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.kind
}

func (m *Manager) AutoAttach() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.autoAttach
}

func (m *Manager) SetAutoAttach(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.autoAttach = enabled
	m.syncTimersLocked()
}

// RequestAttach runs one discovery scan on the active backend. A call while
// Connected reports AlreadyAttached without touching the adapter.
func (m *Manager) RequestAttach(ctx context.Context) (connectors.AttachOutcome, error) {
	return m.attach(ctx, false)
}

func (m *Manager) attach(ctx context.Context, auto bool) (connectors.AttachOutcome, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return connectors.AttachFailed, ErrClosed
	}
	switch m.state {
	case connectors.ConnectionStateConnected:
		if auto {
			m.mu.Unlock()
			return connectors.AttachAlreadyAttached, nil
		}
		m.unlockAndEmit(m.noticeLocked(connectors.NoticeAlreadyAttached, ""))
		return connectors.AttachAlreadyAttached, nil
	case connectors.ConnectionStateConnecting, connectors.ConnectionStateDisconnecting:
		m.mu.Unlock()
		return connectors.AttachFailed, ErrTransitionInProgress
	}

	m.generation++
	gen := m.generation
	adapter := m.adapters[m.kind]
	m.state = connectors.ConnectionStateConnecting
	// Each session starts with an empty buffer. This runs before Discover
	// because the native pump of the new link starts inside it.
	m.reassembler.OnDisconnect()
	m.syncTimersLocked()
	if auto {
		m.mu.Unlock()
	} else {
		m.unlockAndEmit(m.statusEventLocked(connectors.AttachFailed, ""))
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	outcome := adapter.Discover(ctx)

	m.mu.Lock()
	if m.generation != gen || m.state != connectors.ConnectionStateConnecting {
		m.mu.Unlock()
		m.logger.Info("discarding stale discovery result", "backend", adapter.Kind(), "outcome", outcome)
		if outcome == connectors.AttachSuccess {
			if err := adapter.Detach(ctx); err != nil {
				m.logger.Warn("release stale attach failed", "backend", adapter.Kind(), "error", err)
			}
			m.reassembler.OnDisconnect()
		}
		return connectors.AttachFailed, ErrTransitionInProgress
	}

	if !outcome.Attached() {
		m.state = connectors.ConnectionStateDisconnected
		m.syncTimersLocked()
		if auto {
			m.mu.Unlock()
			m.logger.Debug("auto-attach found no executor", "backend", adapter.Kind())
			return outcome, nil
		}
		m.unlockAndEmit(
			m.statusEventLocked(outcome, ""),
			m.noticeLocked(connectors.NoticeAttachFailed, ""),
		)
		return outcome, nil
	}

	m.state = connectors.ConnectionStateConnected
	m.sessionID = uuid.NewString()
	m.endpoint = adapter.Endpoint()
	m.syncTimersLocked()
	m.logger.Info("attached", "backend", adapter.Kind(), "outcome", outcome, "endpoint", m.endpoint, "session_id", m.sessionID)

	kind := connectors.NoticeAttachSuccess
	if outcome == connectors.AttachAlreadyAttached {
		kind = connectors.NoticeAlreadyAttached
	}
	m.unlockAndEmit(m.statusEventLocked(outcome, ""), m.noticeLocked(kind, ""))

	return outcome, nil
}

// RequestDetach tears the link down. The manager ends Disconnected whatever
// the adapter reports; a detach error only changes the notice.
func (m *Manager) RequestDetach(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case connectors.ConnectionStateDisconnected:
		m.unlockAndEmit(m.noticeLocked(connectors.NoticeNotAttached, ""))
		return ErrNotAttached
	case connectors.ConnectionStateDisconnecting:
		m.mu.Unlock()
		return ErrTransitionInProgress
	case connectors.ConnectionStateConnecting:
		// The in-flight scan sees the new generation and releases its result.
		m.generation++
		m.state = connectors.ConnectionStateDisconnected
		m.syncTimersLocked()
		m.unlockAndEmit(
			m.statusEventLocked(connectors.AttachFailed, ""),
			m.noticeLocked(connectors.NoticeDetached, ""),
		)
		return nil
	}

	m.generation++
	adapter := m.adapters[m.kind]
	m.state = connectors.ConnectionStateDisconnecting
	m.syncTimersLocked()
	m.unlockAndEmit(
		m.statusEventLocked(connectors.AttachFailed, ""),
		m.noticeLocked(connectors.NoticeDetaching, ""),
	)

	m.opMu.Lock()
	err := adapter.Detach(ctx)
	if err != nil {
		adapter.Reset()
	}
	m.opMu.Unlock()
	m.reassembler.OnDisconnect()

	m.mu.Lock()
	m.state = connectors.ConnectionStateDisconnected
	m.sessionID = ""
	m.endpoint = ""
	m.syncTimersLocked()
	if err != nil {
		m.logger.Warn("detach failed", "backend", adapter.Kind(), "error", err)
		m.unlockAndEmit(
			m.statusEventLocked(connectors.AttachFailed, err.Error()),
			m.noticeLocked(connectors.NoticeDetachFailed, err.Error()),
		)
		return err
	}
	m.logger.Info("detached", "backend", adapter.Kind())
	m.unlockAndEmit(
		m.statusEventLocked(connectors.AttachFailed, ""),
		m.noticeLocked(connectors.NoticeDetached, ""),
	)

	return nil
}

// Execute sends a script to the attached executor. Link loss reported by the
// adapter drops the manager to Disconnected.
func (m *Manager) Execute(ctx context.Context, script string) error {
	m.mu.Lock()
	if m.state != connectors.ConnectionStateConnected {
		m.unlockAndEmit(m.noticeLocked(connectors.NoticeNotAttached, ""))
		return ErrNotAttached
	}
	adapter := m.adapters[m.kind]
	gen := m.generation
	m.mu.Unlock()

	err := adapter.Execute(ctx, script)
	switch {
	case err == nil:
		m.logger.Debug("script executed", "backend", adapter.Kind(), "bytes", len(script))
		m.emitNotice(connectors.NoticeExecuted, adapter.Kind(), "")
		return nil
	case errors.Is(err, backend.ErrLinkLost), errors.Is(err, backend.ErrNotAttached):
		m.logger.Warn("execute found no link", "backend", adapter.Kind(), "error", err)
		if !m.handleLinkLoss(gen, err.Error(), connectors.NoticeNotAttached) {
			m.emitNotice(connectors.NoticeNotAttached, adapter.Kind(), err.Error())
		}
		return fmt.Errorf("%w: %w", ErrNotAttached, err)
	default:
		m.logger.Warn("execute failed", "backend", adapter.Kind(), "error", err)
		m.emitNotice(connectors.NoticeExecuteFailed, adapter.Kind(), err.Error())
		return err
	}
}

// UpdateSetting forwards a key/value setting to the attached executor when the
// active backend supports it.
func (m *Manager) UpdateSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	if m.state != connectors.ConnectionStateConnected {
		m.mu.Unlock()
		return ErrNotAttached
	}
	adapter := m.adapters[m.kind]
	gen := m.generation
	m.mu.Unlock()

	updater, ok := adapter.(backend.SettingsUpdater)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, adapter.Kind())
	}
	err := updater.UpdateSetting(ctx, key, value)
	if errors.Is(err, backend.ErrLinkLost) {
		m.handleLinkLoss(gen, err.Error(), connectors.NoticeLinkLost)
		return fmt.Errorf("%w: %w", ErrNotAttached, err)
	}
	if err != nil {
		return err
	}
	m.logger.Debug("setting updated", "backend", adapter.Kind(), "key", key)

	return nil
}

// SwitchBackend selects another adapter. A connected manager detaches first;
// an in-flight scan is abandoned.
func (m *Manager) SwitchBackend(ctx context.Context, kind connectors.BackendKind) error {
	if _, ok := m.adapters[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}

	for {
		m.mu.Lock()
		switch m.state {
		case connectors.ConnectionStateDisconnecting:
			m.mu.Unlock()
			return ErrTransitionInProgress
		case connectors.ConnectionStateConnected:
			m.mu.Unlock()
			if err := m.RequestDetach(ctx); errors.Is(err, ErrTransitionInProgress) {
				return err
			}
			continue
		}

		var events []event
		if m.state == connectors.ConnectionStateConnecting {
			m.generation++
			m.state = connectors.ConnectionStateDisconnected
			events = append(events, m.statusEventLocked(connectors.AttachFailed, ""))
		}
		if m.kind == kind {
			m.syncTimersLocked()
			m.unlockAndEmit(events...)
			return nil
		}

		previous := m.kind
		m.kind = kind
		m.generation++
		m.syncTimersLocked()
		m.logger.Info("backend switched", "from", previous, "to", kind)
		events = append(events,
			m.statusEventLocked(connectors.AttachFailed, ""),
			m.noticeLocked(connectors.NoticeBackendSwitched, ""),
		)
		m.unlockAndEmit(events...)

		return nil
	}
}

// OnChunk, OnFinish and OnDisconnect make the manager the push listener of
// adapters that deliver output.
func (m *Manager) OnChunk(chunk []byte) {
	m.reassembler.OnChunk(chunk)
}

func (m *Manager) OnFinish() {
	m.reassembler.OnFinish()
}

// OnDisconnect clears partial output only through handleLinkLoss. A late push
// for a link that is already gone is ignored; the next attach clears the
// buffer before discovery.
func (m *Manager) OnDisconnect() {
	m.handleLinkLoss(0, "executor closed the link", connectors.NoticeLinkLost)
}

// handleLinkLoss moves a Connected manager to Disconnected without calling
// detach. gen of 0 matches any generation. It reports whether a transition
// happened.
func (m *Manager) handleLinkLoss(gen uint64, reason string, notice connectors.NoticeKind) bool {
	m.mu.Lock()
	if m.state != connectors.ConnectionStateConnected || (gen != 0 && gen != m.generation) {
		m.mu.Unlock()
		return false
	}

	m.generation++
	adapter := m.adapters[m.kind]
	adapter.Reset()
	m.state = connectors.ConnectionStateDisconnected
	m.sessionID = ""
	m.endpoint = ""
	// Cleared under mu so no chunk of the lost link survives the transition.
	m.reassembler.OnDisconnect()
	m.syncTimersLocked()
	m.logger.Warn("executor link lost", "backend", adapter.Kind(), "reason", reason)
	m.unlockAndEmit(
		m.statusEventLocked(connectors.AttachFailed, reason),
		m.noticeLocked(notice, reason),
	)

	return true
}

// syncTimersLocked starts or cancels the periodic tasks so that auto-attach
// runs only while Disconnected and keep-alive only while Connected.
func (m *Manager) syncTimersLocked() {
	wantAuto := m.started && !m.closed && m.autoAttach && m.state == connectors.ConnectionStateDisconnected
	switch {
	case wantAuto && m.autoCancel == nil:
		ctx, cancel := context.WithCancel(m.ctx)
		m.autoCancel = cancel
		go m.runAutoAttach(ctx)
	case !wantAuto && m.autoCancel != nil:
		m.autoCancel()
		m.autoCancel = nil
	}

	if m.keepAliveCancel != nil {
		m.keepAliveCancel()
		m.keepAliveCancel = nil
	}
	if !m.started || m.closed || m.state != connectors.ConnectionStateConnected {
		return
	}
	prober, ok := m.adapters[m.kind].(backend.KeepAliver)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.keepAliveCancel = cancel
	go m.runKeepAlive(ctx, m.generation, prober)
}

func (m *Manager) runAutoAttach(ctx context.Context) {
	ticker := time.NewTicker(m.attachInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			// The scan outlives this timer: leaving Disconnected cancels ctx.
			if _, err := m.attach(m.lifetime(), true); err != nil && !errors.Is(err, ErrTransitionInProgress) {
				m.logger.Debug("auto-attach attempt failed", "error", err)
			}
		}
	}
}

func (m *Manager) runKeepAlive(ctx context.Context, gen uint64, prober backend.KeepAliver) {
	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if prober.KeepAlive(ctx) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.handleLinkLoss(gen, "keep-alive probe failed", connectors.NoticeLinkLost)
			return
		}
	}
}

func (m *Manager) lifetime() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ctx
}

func (m *Manager) deliver(msg output.Message) {
	m.mu.Lock()
	payload := connectors.LogMessage{
		Kind:      msg.Kind,
		Text:      msg.Text,
		Backend:   m.kind,
		SessionID: m.sessionID,
		At:        time.Now(),
	}
	m.unlockAndEmit(event{topic: connectors.TopicLogMessage, payload: payload})
}

func (m *Manager) statusLocked(outcome connectors.AttachOutcome, reason string) connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:     m.state,
		Backend:   m.kind,
		Endpoint:  m.endpoint,
		SessionID: m.sessionID,
		Outcome:   outcome,
		Err:       reason,
		Timestamp: time.Now(),
	}
}

func (m *Manager) statusEventLocked(outcome connectors.AttachOutcome, reason string) event {
	return event{topic: connectors.TopicConnStatus, payload: m.statusLocked(outcome, reason)}
}

func (m *Manager) noticeLocked(kind connectors.NoticeKind, detail string) event {
	return event{topic: connectors.TopicNotice, payload: connectors.Notice{
		Kind:    kind,
		Text:    noticeText(kind, m.kind),
		Backend: m.kind,
		Detail:  detail,
		At:      time.Now(),
	}}
}

func (m *Manager) emitNotice(kind connectors.NoticeKind, backendKind connectors.BackendKind, detail string) {
	m.emit(event{topic: connectors.TopicNotice, payload: connectors.Notice{
		Kind:    kind,
		Text:    noticeText(kind, backendKind),
		Backend: backendKind,
		Detail:  detail,
		At:      time.Now(),
	}})
}

// unlockAndEmit releases mu and publishes events before any later transition
// can publish its own.
func (m *Manager) unlockAndEmit(events ...event) {
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	m.publish(events)
}

func (m *Manager) emit(events ...event) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.publish(events)
}

func (m *Manager) publish(events []event) {
	for _, ev := range events {
		m.bus.Publish(ev.topic, ev.payload)
	}
}
