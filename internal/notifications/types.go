// Package notifications delivers short user-facing messages outside the terminal.
package notifications

// Payload is one desktop notification.
type Payload struct {
	Title   string
	Content string
	// Urgent payloads also play the platform alert sound.
	Urgent bool
}

// Sender delivers payloads. Send must not block the caller for long.
type Sender interface {
	Send(payload Payload)
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(Payload)

func (f SenderFunc) Send(payload Payload) {
	if f != nil {
		f(payload)
	}
}
