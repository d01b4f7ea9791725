package controller

import (
	"fmt"

	"github.com/skobkin/execlink/internal/connectors"
)

func noticeText(kind connectors.NoticeKind, backend connectors.BackendKind) string {
	switch kind {
	case connectors.NoticeAttachSuccess:
		return "Attached to executor"
	case connectors.NoticeAlreadyAttached:
		return "Executor is already attached"
	case connectors.NoticeAttachFailed:
		return "No running executor found"
	case connectors.NoticeDetaching:
		return "Detaching from executor"
	case connectors.NoticeDetached:
		return "Detached from executor"
	case connectors.NoticeDetachFailed:
		return "Detach reported an error"
	case connectors.NoticeNotAttached:
		return "Not attached to an executor"
	case connectors.NoticeLinkLost:
		return "Executor link lost"
	case connectors.NoticeExecuted:
		return "Script sent to executor"
	case connectors.NoticeExecuteFailed:
		return "Script execution failed"
	case connectors.NoticeBackendSwitched:
		return fmt.Sprintf("Switched backend to %s", backend)
	default:
		return string(kind)
	}
}
