package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	ProbePath   = "/secret"
	ExecutePath = "/execute"
	ProbeMagic  = "0xdeadbeef"

	defaultLoopbackTimeout = 2 * time.Second
	maxProbeBodySize       = 1 << 10
	maxErrorBodySize       = 64 << 10
)

// LoopbackClient talks to an executor exposing a plain HTTP API on localhost.
type LoopbackClient struct {
	host      string
	userAgent string
	client    *http.Client
}

func NewLoopbackClient(host string, timeout time.Duration) *LoopbackClient {
	if host == "" {
		host = defaultNativeHost
	}
	if timeout <= 0 {
		timeout = defaultLoopbackTimeout
	}

	return &LoopbackClient{
		host:   host,
		client: &http.Client{Timeout: timeout},
	}
}

// SetUserAgent sets the User-Agent header sent with every request.
func (c *LoopbackClient) SetUserAgent(ua string) {
	c.userAgent = strings.TrimSpace(ua)
}

func (c *LoopbackClient) Name() string {
	return "loopback_http"
}

// Endpoint formats the host:port pair of a remembered port.
func (c *LoopbackClient) Endpoint(port int) string {
	return net.JoinHostPort(c.host, strconv.Itoa(port))
}

// Probe reports whether port answers the probe path with the magic body.
// Transport failures are returned as errors; any other answer is false.
func (c *LoopbackClient) Probe(ctx context.Context, port int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(port, ProbePath), nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", c.Endpoint(port), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		transportLogger("loopback_http", "port", port).Debug("probe rejected", "status", resp.StatusCode)
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodySize))
	if err != nil {
		return false, fmt.Errorf("read probe body: %w", err)
	}

	return string(body) == ProbeMagic, nil
}

// Execute posts the raw script source to port.
func (c *LoopbackClient) Execute(ctx context.Context, port int, script string) error {
	logger := transportLogger("loopback_http", "port", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(port, ExecutePath), strings.NewReader(script))
	if err != nil {
		return fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("execute request failed", "error", err)
		return fmt.Errorf("execute on %s: %w", c.Endpoint(port), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("execute rejected", "status", resp.StatusCode)
		return &ExecuteError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}
	logger.Debug("script submitted", "script_len", len(script), "response", strings.TrimSpace(string(body)))

	return nil
}

func (c *LoopbackClient) decorate(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func (c *LoopbackClient) url(port int, path string) string {
	return "http://" + c.Endpoint(port) + path
}
