package transport

import "encoding/binary"

type commandType byte

const (
	commandExecute commandType = 0
	commandSetting commandType = 1

	commandHeaderSize   = 16
	commandLengthOffset = 8
)

// encodeCommand builds a native IPC command frame. The payload is NUL
// terminated and the declared length includes the terminator.
func encodeCommand(cmd commandType, payload string) []byte {
	payloadLen := len(payload) + 1
	frame := make([]byte, commandHeaderSize+payloadLen)
	frame[0] = byte(cmd)
	binary.LittleEndian.PutUint64(frame[commandLengthOffset:commandHeaderSize], uint64(payloadLen))
	copy(frame[commandHeaderSize:], payload)

	return frame
}
