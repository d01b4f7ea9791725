package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/output"
	"github.com/skobkin/execlink/internal/transport"
)

// syncBuffer is written by background loggers while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCLI(t *testing.T, root string, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr syncBuffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--root", root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// mustSetRange moves a port range with one config set call.
func mustSetRange(t *testing.T, root, prefix string, start, end int) {
	t.Helper()
	startKey, endKey := prefix+"_port_start", prefix+"_port_end"
	if _, _, err := runCLI(t, root, "", "config", "set", startKey, strconv.Itoa(start), endKey, strconv.Itoa(end)); err != nil {
		t.Fatalf("config set %s: %v", prefix, err)
	}
}

// startLoopbackExecutor serves the probe and records executed scripts.
func startLoopbackExecutor(t *testing.T) (int, <-chan string) {
	t.Helper()
	scripts := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == transport.ProbePath:
			_, _ = io.WriteString(w, transport.ProbeMagic)
		case r.Method == http.MethodPost && r.URL.Path == transport.ExecutePath:
			raw, _ := io.ReadAll(r.Body)
			scripts <- string(raw)
			_, _ = io.WriteString(w, "ok")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv.Listener.Addr().(*net.TCPAddr).Port, scripts
}

// startNativeExecutor accepts one link and answers every command with a
// debug output frame.
func startNativeExecutor(t *testing.T, reply string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() {
		_ = ln.Close()
	})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if _, err := conn.Write(output.Encode(connectors.LogKindDebug, reply)); err != nil {
				return
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port
}
