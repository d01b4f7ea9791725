package output

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/skobkin/execlink/internal/connectors"
)

const (
	frameTagOffset    = 0
	frameLengthOffset = 8
	framePayloadStart = 16
)

// Message is one decoded executor output frame.
type Message struct {
	Kind connectors.LogKind
	Text string
}

// Decode parses an accumulated output buffer. Unknown tags, short headers and
// truncated payloads yield ok=false; bytes 1..7 are reserved and not validated.
func Decode(buf []byte) (Message, bool) {
	if len(buf) == 0 {
		return Message{}, false
	}

	kind := connectors.LogKind(buf[frameTagOffset])
	if kind != connectors.LogKindDebug && kind != connectors.LogKindError {
		return Message{}, false
	}
	if len(buf) < framePayloadStart {
		return Message{}, false
	}

	textLen := binary.LittleEndian.Uint64(buf[frameLengthOffset:framePayloadStart])
	available := uint64(len(buf) - framePayloadStart)
	if textLen > available || textLen > math.MaxInt {
		return Message{}, false
	}

	text := buf[framePayloadStart : framePayloadStart+int(textLen)]

	return Message{Kind: kind, Text: strings.ToValidUTF8(string(text), "\uFFFD")}, true
}

// Encode builds an output frame. Executors produce these; tests and
// diagnostics use it to feed the decoder.
func Encode(kind connectors.LogKind, text string) []byte {
	frame := make([]byte, framePayloadStart+len(text))
	frame[frameTagOffset] = byte(kind)
	binary.LittleEndian.PutUint64(frame[frameLengthOffset:framePayloadStart], uint64(len(text)))
	copy(frame[framePayloadStart:], text)

	return frame
}
