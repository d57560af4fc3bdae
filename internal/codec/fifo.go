package codec

import "sync"

// FrameSize is the fixed AAC-LC frame size in samples.
const FrameSize = 1024

// MaxFramesPerPush caps how many frames a caller may drain per pushed input
// packet, guarding against runaway loops on pathological inputs.
const MaxFramesPerPush = 3

// AudioFIFO reconciles arbitrary input audio framing with the fixed
// 1024-sample output frames the AAC encoder path produces. Each queued
// access unit is stamped from a running output-sample count:
//
//	pts = basePTS + rescale(samples, 1/rate -> 1/90000)
//
// so output timestamps stay sample-accurate regardless of how the input was
// framed.
type AudioFIFO struct {
	mu sync.Mutex

	rate    int
	basePTS int64 // 90 kHz
	samples int64 // output samples emitted so far
	queue   [][]byte
	based   bool
}

// NewAudioFIFO creates a FIFO for the given output sample rate.
func NewAudioFIFO(rate int) *AudioFIFO {
	if rate <= 0 {
		rate = 48000
	}
	return &AudioFIFO{rate: rate}
}

// SetBase anchors the running sample count to an input timestamp. Only the
// first call takes effect; later anchors would tear the ledger.
func (f *AudioFIFO) SetBase(pts90k int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.based {
		f.basePTS = pts90k
		f.based = true
	}
}

// Write queues one access unit. The unit is copied.
func (f *AudioFIFO) Write(au []byte) {
	if len(au) == 0 {
		return
	}
	cp := make([]byte, len(au))
	copy(cp, au)
	f.mu.Lock()
	f.queue = append(f.queue, cp)
	f.mu.Unlock()
}

// Read pops one frame and its derived PTS in 90 kHz ticks. ok is false when
// the FIFO is empty.
func (f *AudioFIFO) Read() (au []byte, pts int64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, 0, false
	}
	au = f.queue[0]
	f.queue = f.queue[1:]
	pts = f.basePTS + Rescale(f.samples, SampleRateTB(f.rate), TB90k)
	f.samples += FrameSize
	return au, pts, true
}

// Len returns the number of queued frames.
func (f *AudioFIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Samples returns the running output-sample count.
func (f *AudioFIFO) Samples() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples
}
