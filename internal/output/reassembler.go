package output

import (
	"log/slog"
	"sync"
)

// Sink receives every message produced by a completed reassembly cycle.
type Sink func(Message)

// Reassembler collects output chunks until a finish signal and then decodes
// them as one frame. It is safe for concurrent use: appends, drains and
// resets are serialized on one mutex.
type Reassembler struct {
	mu      sync.Mutex
	pending [][]byte
	sink    Sink
	logger  *slog.Logger
}

func NewReassembler(logger *slog.Logger, sink Sink) *Reassembler {
	if logger == nil {
		logger = slog.Default().With("component", "output")
	}

	return &Reassembler{sink: sink, logger: logger}
}

// OnChunk stores a copy of chunk in arrival order.
func (r *Reassembler) OnChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	cp := append([]byte(nil), chunk...)

	r.mu.Lock()
	r.pending = append(r.pending, cp)
	r.mu.Unlock()
}

// OnFinish drains pending chunks, decodes them and forwards a decoded message
// to the sink. Pending state is always cleared.
func (r *Reassembler) OnFinish() {
	r.mu.Lock()
	buf := r.drainLocked()
	r.mu.Unlock()

	if len(buf) == 0 {
		return
	}
	msg, ok := Decode(buf)
	if !ok {
		r.logger.Debug("dropped malformed output frame", "len", len(buf), "tag", buf[0])
		return
	}
	if r.sink != nil {
		r.sink(msg)
	}
}

// OnDisconnect discards partial data without decoding it.
func (r *Reassembler) OnDisconnect() {
	r.mu.Lock()
	dropped := len(r.pending)
	r.pending = nil
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Debug("discarded partial output on disconnect", "chunks", dropped)
	}
}

// Pending reports the number of buffered chunks.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

func (r *Reassembler) drainLocked() []byte {
	if len(r.pending) == 0 {
		r.pending = nil
		return nil
	}

	size := 0
	for _, chunk := range r.pending {
		size += len(chunk)
	}
	buf := make([]byte, 0, size)
	for _, chunk := range r.pending {
		buf = append(buf, chunk...)
	}
	r.pending = nil

	return buf
}
