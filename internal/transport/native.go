package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultNativeHost        = "127.0.0.1"
	defaultNativeDialTimeout = 250 * time.Millisecond
	defaultNativeIdleGap     = 100 * time.Millisecond
	nativeReadBufferSize     = 1024
)

type nativeLink struct {
	conn  net.Conn
	port  int
	local atomic.Bool
}

// NativeClient talks to the executor's native IPC over a loopback TCP link.
// It holds at most one link; output read from the link is pushed to the
// configured Listener.
type NativeClient struct {
	host        string
	dialTimeout time.Duration
	idleGap     time.Duration

	mu       sync.Mutex
	link     *nativeLink
	listener Listener
	writeMu  sync.Mutex
}

func NewNativeClient(host string, dialTimeout time.Duration) *NativeClient {
	if host == "" {
		host = defaultNativeHost
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultNativeDialTimeout
	}

	return &NativeClient{
		host:        host,
		dialTimeout: dialTimeout,
		idleGap:     defaultNativeIdleGap,
		listener:    noopListener{},
	}
}

func (c *NativeClient) Name() string {
	return "native_ipc"
}

// SetListener replaces the push notification receiver for future links.
func (c *NativeClient) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l == nil {
		l = noopListener{}
	}
	c.listener = l
}

func (c *NativeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.link != nil
}

// Port returns the port of the current link, or 0.
func (c *NativeClient) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return 0
	}

	return c.link.port
}

func (c *NativeClient) Attach(ctx context.Context, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := net.JoinHostPort(c.host, strconv.Itoa(port))
	logger := transportLogger("native_ipc", "target", target)

	if c.link != nil {
		logger.Debug("attach skipped: link already open", "port", c.link.port)
		return &CommandError{Command: "attach", ID: IDAlreadyInjected}
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		id := classifyDialError(err)
		logger.Debug("attach failed", "id", id, "error", err)
		return &CommandError{Command: "attach", ID: id, Err: err}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	link := &nativeLink{conn: conn, port: port}
	c.link = link
	go c.runPump(link, c.listener)
	logger.Info("attached", "remote", conn.RemoteAddr().String())

	return nil
}

func (c *NativeClient) Detach() error {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()

	if link == nil {
		return &CommandError{Command: "detach", ID: IDNotInjected}
	}
	logger := transportLogger("native_ipc", "port", link.port)

	link.local.Store(true)
	if err := link.conn.Close(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return &CommandError{Command: "detach", ID: IDNotInjected, Err: err}
		}
		logger.Warn("close link failed", "error", err)
		return &CommandError{Command: "detach", ID: IDCloseFailed, Err: err}
	}
	logger.Info("detached")

	return nil
}

func (c *NativeClient) Execute(ctx context.Context, script string) error {
	return c.send(ctx, "execute", encodeCommand(commandExecute, script))
}

func (c *NativeClient) UpdateSetting(ctx context.Context, key, value string) error {
	return c.send(ctx, "settings", encodeCommand(commandSetting, key+" "+value))
}

func (c *NativeClient) send(ctx context.Context, command string, frame []byte) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()

	logger := transportLogger("native_ipc", "command", command)
	if link == nil {
		logger.Debug("send skipped: not attached")
		return &CommandError{Command: command, ID: IDNotInjected}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = link.conn.SetWriteDeadline(deadline)
	} else {
		_ = link.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := link.conn.Write(frame); err != nil {
		logger.Warn("write command failed", "frame_len", len(frame), "error", err)
		return &CommandError{Command: command, ID: IDNotInjected, Err: err}
	}
	logger.Debug("write command", "frame_len", len(frame))

	return nil
}

// runPump reads the link until it fails. A read gap after received data marks
// the end of one output message.
func (c *NativeClient) runPump(link *nativeLink, l Listener) {
	logger := transportLogger("native_ipc", "port", link.port)
	buf := make([]byte, nativeReadBufferSize)
	receiving := false

	for {
		_ = link.conn.SetReadDeadline(time.Now().Add(c.idleGap))
		n, err := link.conn.Read(buf)
		// Output read after a local detach belongs to no session.
		detached := link.local.Load()
		if n > 0 && !detached {
			receiving = true
			l.OnChunk(append([]byte(nil), buf[:n]...))
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if receiving && !detached {
				receiving = false
				l.OnFinish()
			}
			continue
		}

		c.dropLink(link)
		if link.local.Load() {
			logger.Debug("output pump stopped")
			return
		}
		if errors.Is(err, io.EOF) {
			logger.Info("executor closed the link")
		} else {
			logger.Warn("link read failed", "error", err)
		}
		l.OnDisconnect()

		return
	}
}

func (c *NativeClient) dropLink(link *nativeLink) {
	c.mu.Lock()
	if c.link == link {
		c.link = nil
	}
	c.mu.Unlock()
	_ = link.conn.Close()
}
