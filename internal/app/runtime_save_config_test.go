package app

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/skobkin/execlink/internal/config"
	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/output"
	"github.com/skobkin/execlink/internal/persistence"
)

func TestRuntimeSaveAndApplyConfig_SwitchesBackendAndToggles(t *testing.T) {
	rt := newRuntimeForSaveConfigTests(t)

	next := rt.CurrentConfig()
	next.Connection.Backend = connectors.BackendLoopbackHTTP
	next.Connection.AutoAttach = false
	next.Connection.AutoExecute = true

	if err := rt.SaveAndApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("save and apply config: %v", err)
	}

	if got := rt.Manager.Backend(); got != connectors.BackendLoopbackHTTP {
		t.Fatalf("expected manager to switch to loopback, got %q", got)
	}
	if rt.Manager.AutoAttach() {
		t.Fatalf("expected auto attach to be disabled")
	}
	if !rt.Autoexec.Enabled() {
		t.Fatalf("expected autoexec to be enabled")
	}

	saved, err := config.Load(rt.Paths.ConfigFile)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if saved != next {
		t.Fatalf("expected saved config %+v, got %+v", next, saved)
	}
}

func TestRuntimeSaveAndApplyConfig_EndpointChangeNeedsRestart(t *testing.T) {
	rt := newRuntimeForSaveConfigTests(t)

	next := rt.CurrentConfig()
	next.Connection.Host = "127.0.0.2"
	next.Connection.HTTPPortEnd = 7000

	err := rt.SaveAndApplyConfig(context.Background(), next)
	var warning *RestartRequiredWarning
	if !errors.As(err, &warning) {
		t.Fatalf("expected restart warning, got %v", err)
	}
	if len(warning.Keys) != 2 || warning.Keys[0] != "connection.host" || warning.Keys[1] != "connection.http_port_*" {
		t.Fatalf("unexpected restart keys %v", warning.Keys)
	}
	if got := rt.CurrentConfig().Connection.Host; got != "127.0.0.2" {
		t.Fatalf("expected config to be stored despite warning, got host %q", got)
	}
}

func TestRuntimeSaveAndApplyConfig_RejectsInvalidConfig(t *testing.T) {
	rt := newRuntimeForSaveConfigTests(t)

	next := rt.CurrentConfig()
	next.Connection.Backend = "serial"

	if err := rt.SaveAndApplyConfig(context.Background(), next); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
	if got := rt.Manager.Backend(); got != connectors.BackendNativeIPC {
		t.Fatalf("expected backend to stay native, got %q", got)
	}
	if _, err := os.Stat(rt.Paths.ConfigFile); !os.IsNotExist(err) {
		t.Fatalf("expected no config file to be written, stat err: %v", err)
	}
}

func TestRuntimeClearHistory(t *testing.T) {
	rt := newRuntimeForSaveConfigTests(t)
	ctx := context.Background()

	if _, err := rt.LogRepo.Insert(ctx, persistence.LogEntry{SessionID: "s1", Backend: "native_ipc", Kind: connectors.LogKindDebug, Text: "hi"}); err != nil {
		t.Fatalf("insert history: %v", err)
	}
	if err := rt.ClearHistory(ctx); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	count, err := rt.LogRepo.Count(ctx)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty history, got %d rows", count)
	}
}

func TestInitializeOverrides(t *testing.T) {
	rt, err := Initialize(context.Background(), InitOptions{
		RootDir:           t.TempDir(),
		Backend:           connectors.BackendLoopbackHTTP,
		DisableAutoAttach: true,
		Console:           io.Discard,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			t.Fatalf("close runtime: %v", err)
		}
	}()

	if got := rt.Manager.Backend(); got != connectors.BackendLoopbackHTTP {
		t.Fatalf("expected backend override, got %q", got)
	}
	if rt.Manager.AutoAttach() {
		t.Fatalf("expected auto attach override")
	}
	if rt.CurrentConfig().Connection.Backend != connectors.BackendNativeIPC {
		t.Fatalf("override must not change the loaded config")
	}
}

func TestRuntimeCloseDropsLingeringNativeLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame := output.Encode(connectors.LogKindDebug, "tick")
		for {
			if _, err := conn.Write(frame); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	rt, err := Initialize(context.Background(), InitOptions{
		RootDir:           t.TempDir(),
		DisableAutoAttach: true,
		Console:           io.Discard,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	// Attached behind the manager's back, as a stale scan result would be.
	if err := rt.Backends.native.Attach(context.Background(), ln.Addr().(*net.TCPAddr).Port); err != nil {
		t.Fatalf("attach native link: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close runtime: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runtime close hung while the executor was still streaming")
	}
	if rt.Backends.native.Connected() {
		t.Fatalf("expected native link to be dropped on close")
	}
}

func newRuntimeForSaveConfigTests(t *testing.T) *Runtime {
	t.Helper()

	rt, err := Initialize(context.Background(), InitOptions{
		RootDir:           t.TempDir(),
		DisableAutoAttach: false,
		Console:           io.Discard,
	})
	if err != nil {
		t.Fatalf("initialize runtime: %v", err)
	}
	t.Cleanup(func() {
		_ = rt.Close()
	})

	return rt
}
