package controller

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/skobkin/execlink/internal/backend"
	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/output"
	"github.com/skobkin/execlink/internal/transport"
)

type fakeAdapter struct {
	kind connectors.BackendKind

	mu        sync.Mutex
	outcomes  []connectors.AttachOutcome
	scans     int
	detaches  int
	resets    int
	detachErr error
	execErr   error
	scripts   []string
	gate      chan struct{}
	started   chan struct{}
	listener  transport.Listener
}

func newFakeAdapter(kind connectors.BackendKind, outcomes ...connectors.AttachOutcome) *fakeAdapter {
	return &fakeAdapter{kind: kind, outcomes: outcomes}
}

func (f *fakeAdapter) Kind() connectors.BackendKind { return f.kind }

func (f *fakeAdapter) Discover(context.Context) connectors.AttachOutcome {
	f.mu.Lock()
	f.scans++
	outcome := connectors.AttachFailed
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		if len(f.outcomes) > 1 {
			f.outcomes = f.outcomes[1:]
		}
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	return outcome
}

func (f *fakeAdapter) Detach(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detaches++

	return f.detachErr
}

func (f *fakeAdapter) Execute(_ context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)

	return f.execErr
}

func (f *fakeAdapter) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeAdapter) Endpoint() string { return "" }

func (f *fakeAdapter) BindListener(l transport.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeAdapter) counts() (scans, detaches, execs int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.scans, f.detaches, len(f.scripts)
}

type proberStub struct {
	mu    sync.Mutex
	alive map[int]bool
}

func (p *proberStub) Probe(_ context.Context, port int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok, found := p.alive[port]
	if !found {
		return false, os.NewSyscallError("connect", syscall.ECONNREFUSED)
	}

	return ok, nil
}

func (p *proberStub) Execute(context.Context, int, string) error { return nil }

func (p *proberStub) Endpoint(port int) string { return fmt.Sprintf("127.0.0.1:%d", port) }

func (p *proberStub) set(port int, ok bool) {
	p.mu.Lock()
	p.alive[port] = ok
	p.mu.Unlock()
}

func newTestManager(t *testing.T, opts Options, adapters ...backend.Adapter) (*Manager, bus.Subscription) {
	t.Helper()

	b := bus.New(nil)
	sub := b.Subscribe(connectors.TopicConnStatus, connectors.TopicNotice, connectors.TopicLogMessage)
	m, err := New(nil, b, adapters, opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Close(context.Background())
		b.Close()
	})

	return m, sub
}

// waitFor consumes events until match returns true and returns the skipped ones.
func waitFor(t *testing.T, sub bus.Subscription, match func(any) bool) []any {
	t.Helper()

	var seen []any
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-sub:
			if !ok {
				t.Fatalf("subscription closed")
			}
			if match(msg) {
				return seen
			}
			seen = append(seen, msg)
		case <-timeout:
			t.Fatalf("timed out waiting for event, seen %v", seen)
			return nil
		}
	}
}

func isNotice(kind connectors.NoticeKind) func(any) bool {
	return func(msg any) bool {
		n, ok := msg.(connectors.Notice)
		return ok && n.Kind == kind
	}
}

func isState(state connectors.ConnectionState) func(any) bool {
	return func(msg any) bool {
		s, ok := msg.(connectors.ConnectionStatus)
		return ok && s.State == state
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	_, err := New(nil, b, []backend.Adapter{newFakeAdapter(connectors.BackendNativeIPC)}, Options{Backend: connectors.BackendLoopbackHTTP})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestRequestAttachLoopbackRemembersPort(t *testing.T) {
	prober := &proberStub{alive: map[int]bool{6970: true}}
	adapter := backend.NewLoopbackAdapter(nil, prober, backend.DefaultLoopbackPorts)
	m, sub := newTestManager(t, Options{Backend: connectors.BackendLoopbackHTTP}, adapter)

	outcome, err := m.RequestAttach(context.Background())
	if err != nil || outcome != connectors.AttachSuccess {
		t.Fatalf("expected success, got %v %v", outcome, err)
	}
	status := m.Status()
	if status.State != connectors.ConnectionStateConnected || status.Endpoint != "127.0.0.1:6970" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	waitFor(t, sub, isNotice(connectors.NoticeAttachSuccess))
}

func TestRequestAttachFailedReturnsToDisconnected(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachFailed)
	m, sub := newTestManager(t, Options{}, adapter)

	outcome, err := m.RequestAttach(context.Background())
	if err != nil || outcome != connectors.AttachFailed {
		t.Fatalf("expected failed outcome, got %v %v", outcome, err)
	}
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	waitFor(t, sub, isNotice(connectors.NoticeAttachFailed))
}

func TestRequestAttachAlreadyAttachedOutcome(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachAlreadyAttached)
	m, sub := newTestManager(t, Options{}, adapter)

	outcome, err := m.RequestAttach(context.Background())
	if err != nil || outcome != connectors.AttachAlreadyAttached {
		t.Fatalf("expected already attached, got %v %v", outcome, err)
	}
	if m.State() != connectors.ConnectionStateConnected {
		t.Fatalf("already attached must leave the manager connected")
	}
	waitFor(t, sub, isNotice(connectors.NoticeAlreadyAttached))
}

func TestRequestAttachWhileConnectedSkipsAdapter(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeAttachSuccess))

	outcome, err := m.RequestAttach(context.Background())
	if err != nil || outcome != connectors.AttachAlreadyAttached {
		t.Fatalf("expected already attached, got %v %v", outcome, err)
	}
	if scans, _, _ := adapter.counts(); scans != 1 {
		t.Fatalf("expected one scan, got %d", scans)
	}
	waitFor(t, sub, isNotice(connectors.NoticeAlreadyAttached))
}

func TestRequestAttachTwiceStartsOneScan(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	adapter.gate = make(chan struct{})
	adapter.started = make(chan struct{}, 1)
	m, _ := newTestManager(t, Options{}, adapter)

	done := make(chan error, 1)
	go func() {
		_, err := m.RequestAttach(context.Background())
		done <- err
	}()
	<-adapter.started

	if _, err := m.RequestAttach(context.Background()); !errors.Is(err, ErrTransitionInProgress) {
		t.Fatalf("expected transition in progress, got %v", err)
	}
	close(adapter.gate)
	if err := <-done; err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if scans, _, _ := adapter.counts(); scans != 1 {
		t.Fatalf("expected exactly one scan, got %d", scans)
	}
	if m.State() != connectors.ConnectionStateConnected {
		t.Fatalf("expected connected, got %s", m.State())
	}
}

func TestStaleScanResultIsIgnored(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	adapter.gate = make(chan struct{})
	adapter.started = make(chan struct{}, 1)
	m, _ := newTestManager(t, Options{}, adapter)

	done := make(chan error, 1)
	go func() {
		_, err := m.RequestAttach(context.Background())
		done <- err
	}()
	<-adapter.started

	if err := m.RequestDetach(context.Background()); err != nil {
		t.Fatalf("detach during scan: %v", err)
	}
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected after detach, got %s", m.State())
	}

	close(adapter.gate)
	if err := <-done; !errors.Is(err, ErrTransitionInProgress) {
		t.Fatalf("expected stale scan error, got %v", err)
	}
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("stale scan resurrected state %s", m.State())
	}
	if _, detaches, _ := adapter.counts(); detaches != 1 {
		t.Fatalf("expected stale attach to be released once, got %d", detaches)
	}
}

func TestRequestDetach(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)

	if err := m.RequestDetach(context.Background()); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected not attached, got %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeNotAttached))

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.RequestDetach(context.Background()); err != nil {
		t.Fatalf("detach: %v", err)
	}
	skipped := waitFor(t, sub, isNotice(connectors.NoticeDetached))
	sawDisconnecting := false
	for _, msg := range skipped {
		if isState(connectors.ConnectionStateDisconnecting)(msg) {
			sawDisconnecting = true
		}
	}
	if !sawDisconnecting {
		t.Fatalf("expected a disconnecting status before detached, got %v", skipped)
	}
	if m.State() != connectors.ConnectionStateDisconnected || m.Status().SessionID != "" {
		t.Fatalf("expected clean disconnected state, got %+v", m.Status())
	}
}

func TestRequestDetachFailureStillDisconnects(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	adapter.detachErr = errors.New("close failed")
	m, sub := newTestManager(t, Options{}, adapter)

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.RequestDetach(context.Background()); err == nil {
		t.Fatalf("expected detach error to be reported")
	}
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	waitFor(t, sub, isNotice(connectors.NoticeDetachFailed))
}

func TestExecuteWhileDisconnectedSkipsAdapter(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC)
	m, sub := newTestManager(t, Options{}, adapter)

	if err := m.Execute(context.Background(), "print(1)"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected not attached, got %v", err)
	}
	if _, _, execs := adapter.counts(); execs != 0 {
		t.Fatalf("adapter must not be touched, got %d executes", execs)
	}
	waitFor(t, sub, isNotice(connectors.NoticeNotAttached))
}

func TestExecuteOutcomes(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)
	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := m.Execute(context.Background(), "print(1)"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeExecuted))

	adapter.mu.Lock()
	adapter.execErr = errors.New("pipe stalled")
	adapter.mu.Unlock()
	if err := m.Execute(context.Background(), "print(2)"); err == nil || errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected generic execute error, got %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeExecuteFailed))
	if m.State() != connectors.ConnectionStateConnected {
		t.Fatalf("generic execute failure must not change state")
	}

	adapter.mu.Lock()
	adapter.execErr = fmt.Errorf("%w: not injected", backend.ErrLinkLost)
	adapter.mu.Unlock()
	if err := m.Execute(context.Background(), "print(3)"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected not attached on link loss, got %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeNotAttached))
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected after link loss, got %s", m.State())
	}
	if _, detaches, _ := adapter.counts(); detaches != 0 {
		t.Fatalf("link loss must not call detach")
	}
}

func TestKeepAliveFailureDisconnectsLoopback(t *testing.T) {
	prober := &proberStub{alive: map[int]bool{6969: true}}
	adapter := backend.NewLoopbackAdapter(nil, prober, backend.DefaultLoopbackPorts)
	m, sub := newTestManager(t, Options{Backend: connectors.BackendLoopbackHTTP, KeepAliveInterval: 10 * time.Millisecond}, adapter)
	m.Start(context.Background())

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeAttachSuccess))

	prober.set(6969, false)
	waitFor(t, sub, isNotice(connectors.NoticeLinkLost))

	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	if adapter.Port() != 0 {
		t.Fatalf("expected remembered port to be cleared, got %d", adapter.Port())
	}
}

func TestKeepAliveTickAfterDetachIsNoop(t *testing.T) {
	prober := &proberStub{alive: map[int]bool{6969: true}}
	adapter := backend.NewLoopbackAdapter(nil, prober, backend.DefaultLoopbackPorts)
	m, sub := newTestManager(t, Options{Backend: connectors.BackendLoopbackHTTP, KeepAliveInterval: 5 * time.Millisecond}, adapter)
	m.Start(context.Background())

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.RequestDetach(context.Background()); err != nil {
		t.Fatalf("detach: %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeDetached))
	prober.set(6969, false)
	time.Sleep(30 * time.Millisecond)

	select {
	case msg := <-sub:
		t.Fatalf("unexpected event after detach: %+v", msg)
	default:
	}
}

func TestPushDisconnectDropsLinkWithoutDetach(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)
	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	adapter.listener.OnChunk([]byte{1, 0, 0})
	adapter.listener.OnDisconnect()

	waitFor(t, sub, isNotice(connectors.NoticeLinkLost))
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	if m.reassembler.Pending() != 0 {
		t.Fatalf("expected partial output to be discarded")
	}
	if _, detaches, _ := adapter.counts(); detaches != 0 {
		t.Fatalf("push disconnect must not call detach")
	}
}

func TestOutputIsDeliveredAsLogMessage(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)
	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	session := m.Status().SessionID

	frame := make([]byte, 16, 21)
	frame[0] = 2
	binary.LittleEndian.PutUint64(frame[8:], 5)
	frame = append(frame, "oops!"...)
	adapter.listener.OnChunk(frame[:7])
	adapter.listener.OnChunk(frame[7:])
	adapter.listener.OnFinish()

	var got connectors.LogMessage
	waitFor(t, sub, func(msg any) bool {
		lm, ok := msg.(connectors.LogMessage)
		if ok {
			got = lm
		}
		return ok
	})
	if got.Kind != connectors.LogKindError || got.Text != "oops!" {
		t.Fatalf("unexpected log message %+v", got)
	}
	if got.SessionID != session || got.Backend != connectors.BackendNativeIPC {
		t.Fatalf("log message not tagged with session: %+v", got)
	}
}

func TestLateOutputAfterDetachDoesNotLeakIntoNextSession(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.RequestDetach(context.Background()); err != nil {
		t.Fatalf("detach: %v", err)
	}
	// A pump that read before the close may still deliver.
	m.OnChunk([]byte("late"))
	m.OnDisconnect()

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if pending := m.reassembler.Pending(); pending != 0 {
		t.Fatalf("expected empty buffer for the new session, got %d chunks", pending)
	}
	if m.State() != connectors.ConnectionStateConnected {
		t.Fatalf("late disconnect must not affect the new session, got %s", m.State())
	}

	m.OnChunk(output.Encode(connectors.LogKindDebug, "hello"))
	m.OnFinish()

	var got connectors.LogMessage
	waitFor(t, sub, func(msg any) bool {
		lm, ok := msg.(connectors.LogMessage)
		if ok {
			got = lm
		}
		return ok
	})
	if got.Kind != connectors.LogKindDebug || got.Text != "hello" {
		t.Fatalf("first frame of the new session was not decoded cleanly: %+v", got)
	}
}

func TestLinkLossClearsPendingOutput(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{}, adapter)
	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.OnChunk([]byte{1, 0, 0})
	m.OnDisconnect()
	waitFor(t, sub, isNotice(connectors.NoticeLinkLost))
	if pending := m.reassembler.Pending(); pending != 0 {
		t.Fatalf("expected link loss to discard partial output, got %d chunks", pending)
	}
}

func TestSwitchBackendDetachesFirst(t *testing.T) {
	native := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	loopback := newFakeAdapter(connectors.BackendLoopbackHTTP, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{Backend: connectors.BackendNativeIPC}, native, loopback)

	if err := m.SwitchBackend(context.Background(), "serial"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected unknown backend, got %v", err)
	}

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.SwitchBackend(context.Background(), connectors.BackendLoopbackHTTP); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if _, detaches, _ := native.counts(); detaches != 1 {
		t.Fatalf("expected native detach before switching, got %d", detaches)
	}
	if m.Backend() != connectors.BackendLoopbackHTTP || m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("unexpected state after switch: %+v", m.Status())
	}
	skipped := waitFor(t, sub, isNotice(connectors.NoticeBackendSwitched))
	sawDetached := false
	for _, msg := range skipped {
		if isNotice(connectors.NoticeDetached)(msg) {
			sawDetached = true
		}
	}
	if !sawDetached {
		t.Fatalf("expected detached notice before switch, got %v", skipped)
	}

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach after switch: %v", err)
	}
	if scans, _, _ := loopback.counts(); scans != 1 {
		t.Fatalf("expected scan on the new backend, got %d", scans)
	}
}

func TestAutoAttachRetriesQuietly(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC,
		connectors.AttachFailed, connectors.AttachFailed, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{AutoAttach: true, AttachInterval: 5 * time.Millisecond}, adapter)
	m.Start(context.Background())

	skipped := waitFor(t, sub, isNotice(connectors.NoticeAttachSuccess))
	for _, msg := range skipped {
		if isNotice(connectors.NoticeAttachFailed)(msg) {
			t.Fatalf("auto-attach must not report each failed attempt: %v", skipped)
		}
	}
	if scans, _, _ := adapter.counts(); scans < 3 {
		t.Fatalf("expected at least three scans, got %d", scans)
	}

	time.Sleep(30 * time.Millisecond)
	if scans, _, _ := adapter.counts(); scans != 3 {
		t.Fatalf("auto-attach must stop once connected, got %d scans", scans)
	}
}

func TestSetAutoAttachOffStopsTimer(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachFailed)
	m, _ := newTestManager(t, Options{AutoAttach: true, AttachInterval: 5 * time.Millisecond}, adapter)
	m.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	m.SetAutoAttach(false)
	time.Sleep(10 * time.Millisecond)
	before, _, _ := adapter.counts()
	time.Sleep(30 * time.Millisecond)
	after, _, _ := adapter.counts()
	if after != before {
		t.Fatalf("expected no scans after disabling auto-attach, got %d then %d", before, after)
	}
}

func TestCloseDetachesConnectedManager(t *testing.T) {
	adapter := newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess)
	m, _ := newTestManager(t, Options{}, adapter)
	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, detaches, _ := adapter.counts(); detaches != 1 {
		t.Fatalf("expected detach on close, got %d", detaches)
	}
	if _, err := m.RequestAttach(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

type settingsAdapter struct {
	*fakeAdapter
	settings map[string]string
	err      error
}

func (s *settingsAdapter) UpdateSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.settings[key] = value

	return nil
}

func TestUpdateSetting(t *testing.T) {
	native := &settingsAdapter{
		fakeAdapter: newFakeAdapter(connectors.BackendNativeIPC, connectors.AttachSuccess),
		settings:    map[string]string{},
	}
	loopback := newFakeAdapter(connectors.BackendLoopbackHTTP, connectors.AttachSuccess)
	m, sub := newTestManager(t, Options{Backend: connectors.BackendNativeIPC}, native, loopback)

	if err := m.UpdateSetting(context.Background(), "fps", "60"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected not attached before attach, got %v", err)
	}

	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.UpdateSetting(context.Background(), "fps", "60"); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	native.mu.Lock()
	got := native.settings["fps"]
	native.err = fmt.Errorf("%w: not injected", backend.ErrLinkLost)
	native.mu.Unlock()
	if got != "60" {
		t.Fatalf("expected setting to reach adapter, got %q", got)
	}

	if err := m.UpdateSetting(context.Background(), "fps", "30"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected not attached on link loss, got %v", err)
	}
	waitFor(t, sub, isNotice(connectors.NoticeLinkLost))
	if m.State() != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected after link loss, got %s", m.State())
	}

	if err := m.SwitchBackend(context.Background(), connectors.BackendLoopbackHTTP); err != nil {
		t.Fatalf("switch backend: %v", err)
	}
	if _, err := m.RequestAttach(context.Background()); err != nil {
		t.Fatalf("attach loopback: %v", err)
	}
	if err := m.UpdateSetting(context.Background(), "fps", "60"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported on loopback, got %v", err)
	}
}
