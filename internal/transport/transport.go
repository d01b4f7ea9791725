package transport

import "context"

// Listener receives push notifications from an attached executor link. All
// callbacks for one link are delivered from a single goroutine in emission
// order.
type Listener interface {
	OnChunk(chunk []byte)
	OnFinish()
	OnDisconnect()
}

// CommandSurface is the named-command interface of the native executor IPC.
type CommandSurface interface {
	Name() string
	Attach(ctx context.Context, port int) error
	Detach() error
	Execute(ctx context.Context, script string) error
	UpdateSetting(ctx context.Context, key, value string) error
}

type noopListener struct{}

func (noopListener) OnChunk([]byte) {}
func (noopListener) OnFinish()      {}
func (noopListener) OnDisconnect()  {}
