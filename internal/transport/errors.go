package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error identifiers recognized on the native command surface.
const (
	IDConnectionRefused = "ConnectionRefused"
	IDAlreadyInjected   = "AlreadyInjected"
	IDNotInjected       = "NotInjected"
	IDTimedOut          = "TimedOut"
	IDConnectionError   = "ConnectionError"
	IDCloseFailed       = "CloseFailed"
)

var (
	ErrConnectionRefused = errors.New(IDConnectionRefused)
	ErrAlreadyInjected   = errors.New(IDAlreadyInjected)
	ErrNotInjected       = errors.New(IDNotInjected)
)

var recognizedIDs = map[string]error{
	IDConnectionRefused: ErrConnectionRefused,
	IDAlreadyInjected:   ErrAlreadyInjected,
	IDNotInjected:       ErrNotInjected,
}

// CommandError is a failed command invocation tagged with an error identifier.
type CommandError struct {
	Command string
	ID      string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Command, e.ID, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Command, e.ID)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) Is(target error) bool {
	sentinel, ok := recognizedIDs[e.ID]

	return ok && sentinel == target
}

// ErrorID returns the command error identifier carried by err, if any.
func ErrorID(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ID
	}

	return ""
}

// ExecuteError is a non-success HTTP response to an execute request.
type ExecuteError struct {
	Status int
	Detail string
}

func (e *ExecuteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("execute failed: HTTP %d", e.Status)
	}

	return fmt.Sprintf("execute failed: HTTP %d: %s", e.Status, e.Detail)
}

// IsConnectionRefused reports whether err is an expected "nothing listens here"
// failure of a loopback dial.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyDialError(err error) string {
	switch {
	case IsConnectionRefused(err):
		return IDConnectionRefused
	case isTimeout(err):
		return IDTimedOut
	default:
		return IDConnectionError
	}
}
