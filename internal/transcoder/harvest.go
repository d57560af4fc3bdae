package transcoder

import (
	"bytes"
	"sync"
)

// harvestBuffer is the sink under the continuous muxer. Every write lands
// in the current-segment buffer; Take hands the accumulated bytes over and
// starts the next segment without disturbing the muxer's counters.
type harvestBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	total int64
}

func (h *harvestBuffer) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total += int64(len(p))
	return h.buf.Write(p)
}

// Take returns the bytes written since the last Take and resets the
// current-segment buffer. The returned slice is owned by the caller.
func (h *harvestBuffer) Take() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, h.buf.Len())
	copy(out, h.buf.Bytes())
	h.buf.Reset()
	return out
}

// Pending returns the byte count of the open segment.
func (h *harvestBuffer) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Len()
}

// Total returns all bytes ever written through the sink.
func (h *harvestBuffer) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
