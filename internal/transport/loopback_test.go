package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	addr, ok := srv.Listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener address %T", srv.Listener.Addr())
	}

	return addr.Port
}

func TestLoopbackProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "magic", status: http.StatusOK, body: ProbeMagic, want: true},
		{name: "wrong body", status: http.StatusOK, body: "0xdeadbeef\n", want: false},
		{name: "other service", status: http.StatusOK, body: "hello", want: false},
		{name: "not found", status: http.StatusNotFound, body: ProbeMagic, want: false},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != ProbePath || r.Method != http.MethodGet {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		}))

		client := NewLoopbackClient("127.0.0.1", time.Second)
		got, err := client.Probe(context.Background(), serverPort(t, srv))
		srv.Close()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestLoopbackProbeRefusedIsConnectionRefused(t *testing.T) {
	client := NewLoopbackClient("127.0.0.1", time.Second)

	ok, err := client.Probe(context.Background(), closedPort(t))
	if ok {
		t.Fatalf("expected probe to fail")
	}
	if !IsConnectionRefused(err) {
		t.Fatalf("expected connection refused, got %v", err)
	}
}

func TestLoopbackExecute(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ExecutePath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotType = r.Header.Get("Content-Type")
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	client := NewLoopbackClient("127.0.0.1", time.Second)
	if err := client.Execute(context.Background(), serverPort(t, srv), "print(1)"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotBody != "print(1)" {
		t.Fatalf("unexpected body %q", gotBody)
	}
	if gotType != "text/plain" {
		t.Fatalf("unexpected content type %q", gotType)
	}
}

func TestLoopbackExecuteErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "syntax error near 'end'\n")
	}))
	defer srv.Close()

	client := NewLoopbackClient("127.0.0.1", time.Second)
	err := client.Execute(context.Background(), serverPort(t, srv), "end")

	var execErr *ExecuteError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecuteError, got %v", err)
	}
	if execErr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", execErr.Status)
	}
	if execErr.Detail != "syntax error near 'end'" {
		t.Fatalf("unexpected detail %q", execErr.Detail)
	}
}

func TestLoopbackSendsUserAgent(t *testing.T) {
	agents := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		_, _ = io.WriteString(w, ProbeMagic)
	}))
	defer srv.Close()

	client := NewLoopbackClient("127.0.0.1", time.Second)
	client.SetUserAgent(" execlink/1.2.3 ")
	port := serverPort(t, srv)
	if _, err := client.Probe(context.Background(), port); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := client.Execute(context.Background(), port, "x"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	for i := 0; i < 2; i++ {
		if got := <-agents; got != "execlink/1.2.3" {
			t.Fatalf("request %d: unexpected user agent %q", i, got)
		}
	}
}
