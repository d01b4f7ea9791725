// Package backend adapts the two executor transports to one capability
// interface used by the connection manager.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/skobkin/execlink/internal/connectors"
	"github.com/skobkin/execlink/internal/transport"
)

var (
	// ErrLinkLost reports that the executor link is gone and the manager must
	// drop to disconnected.
	ErrLinkLost = errors.New("executor link lost")
	// ErrNotAttached reports a call that needs a remembered endpoint.
	ErrNotAttached = errors.New("not attached")
)

// Adapter executes attach/detach/execute against one concrete transport.
type Adapter interface {
	Kind() connectors.BackendKind
	Discover(ctx context.Context) connectors.AttachOutcome
	Detach(ctx context.Context) error
	Execute(ctx context.Context, script string) error
	// Reset drops local endpoint state after the link was lost without
	// contacting the executor.
	Reset()
	Endpoint() string
}

// KeepAliver is implemented by adapters without push disconnect signals.
type KeepAliver interface {
	KeepAlive(ctx context.Context) bool
}

// SettingsUpdater is implemented by adapters that can forward executor settings.
type SettingsUpdater interface {
	UpdateSetting(ctx context.Context, key, value string) error
}

// ListenerBinder is implemented by adapters whose transport pushes output and
// disconnect notifications.
type ListenerBinder interface {
	BindListener(l transport.Listener)
}

// PortRange is a half-open [Start, End) range of candidate ports.
type PortRange struct {
	Start int
	End   int
}

func (r PortRange) Len() int {
	if r.End <= r.Start {
		return 0
	}

	return r.End - r.Start
}

func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port < r.End
}

func (r PortRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

func (r PortRange) Validate() error {
	if r.Start <= 0 || r.End > 65536 {
		return fmt.Errorf("port range %s is out of bounds", r)
	}
	if r.Len() == 0 {
		return fmt.Errorf("port range %s is empty", r)
	}

	return nil
}
