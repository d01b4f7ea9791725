package connectors

import "time"

// ConnectionState describes the attach lifecycle owned by the connection manager.
type ConnectionState string

const (
	ConnectionStateDisconnected  ConnectionState = "disconnected"
	ConnectionStateConnecting    ConnectionState = "connecting"
	ConnectionStateConnected     ConnectionState = "connected"
	ConnectionStateDisconnecting ConnectionState = "disconnecting"
)

// BackendKind identifies which executor backend is used for attach/execute.
type BackendKind string

const (
	BackendNativeIPC    BackendKind = "native_ipc"
	BackendLoopbackHTTP BackendKind = "loopback_http"
)

func (k BackendKind) Valid() bool {
	switch k {
	case BackendNativeIPC, BackendLoopbackHTTP:
		return true
	default:
		return false
	}
}

func (k BackendKind) String() string {
	return string(k)
}

// AttachOutcome is the result of a single attach attempt.
type AttachOutcome int

const (
	AttachFailed AttachOutcome = iota
	AttachSuccess
	AttachAlreadyAttached
)

func (o AttachOutcome) String() string {
	switch o {
	case AttachSuccess:
		return "success"
	case AttachAlreadyAttached:
		return "already_attached"
	default:
		return "failed"
	}
}

// Attached reports whether the outcome leaves the manager connected.
func (o AttachOutcome) Attached() bool {
	return o == AttachSuccess || o == AttachAlreadyAttached
}

// ConnectionStatus is a bus event snapshot of the current attach status.
type ConnectionStatus struct {
	State     ConnectionState
	Backend   BackendKind
	Endpoint  string
	SessionID string
	Outcome   AttachOutcome
	Err       string
	Timestamp time.Time
}

// NoticeKind enumerates the short caller-facing notices.
type NoticeKind string

const (
	NoticeAttachSuccess   NoticeKind = "attach_success"
	NoticeAlreadyAttached NoticeKind = "already_attached"
	NoticeAttachFailed    NoticeKind = "attach_failed"
	NoticeDetaching       NoticeKind = "detaching"
	NoticeDetached        NoticeKind = "detached"
	NoticeDetachFailed    NoticeKind = "detach_failed"
	NoticeNotAttached     NoticeKind = "not_attached"
	NoticeLinkLost        NoticeKind = "link_lost"
	NoticeExecuted        NoticeKind = "executed"
	NoticeExecuteFailed   NoticeKind = "execute_failed"
	NoticeBackendSwitched NoticeKind = "backend_switched"
)

// Notice is one short human-readable outcome of an attach/detach/execute call.
type Notice struct {
	Kind    NoticeKind
	Text    string
	Backend BackendKind
	Detail  string
	At      time.Time
}

// LogKind is the type of a decoded executor output message.
type LogKind int

const (
	LogKindDebug LogKind = 1
	LogKindError LogKind = 2
)

func (k LogKind) String() string {
	switch k {
	case LogKindDebug:
		return "debug"
	case LogKindError:
		return "error"
	default:
		return "unknown"
	}
}

// LogMessage is a decoded executor output message delivered to the log sink.
type LogMessage struct {
	Kind      LogKind
	Text      string
	Backend   BackendKind
	SessionID string
	At        time.Time
}
