package demux

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caststream/caststream/internal/source"
)

// memSource is a fully available in-memory source.
type memSource struct {
	mu   sync.Mutex
	data []byte
	pos  int64
}

func (s *memSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *memSource) Seek(offset int64, whence source.Whence) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if whence == source.SizeQuery {
		return int64(len(s.data)), nil
	}
	switch whence {
	case source.Absolute:
		s.pos = offset
	case source.Relative:
		s.pos += offset
	case source.FromEnd:
		s.pos = int64(len(s.data)) + offset
	}
	if s.pos < 0 {
		s.pos = 0
	}
	if s.pos > int64(len(s.data)) {
		s.pos = int64(len(s.data))
	}
	return s.pos, nil
}

func (s *memSource) AbsoluteSize() int64 { return int64(len(s.data)) }
func (s *memSource) Close() error        { return nil }

// growingSource simulates a progressive download: reads past the watermark
// return the caught-up error until more bytes arrive.
type growingSource struct {
	memSource
	written  int64
	complete bool
	err      error
}

func (s *growingSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	if s.pos >= s.written {
		return 0, source.ErrCaughtUp
	}
	limit := s.written
	n := copy(p, s.data[s.pos:limit])
	s.pos += int64(n)
	return n, nil
}

func (s *growingSource) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *growingSource) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

func (s *growingSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *growingSource) advance(n int64) {
	s.mu.Lock()
	s.written += n
	if s.written >= int64(len(s.data)) {
		s.written = int64(len(s.data))
		s.complete = true
	}
	s.mu.Unlock()
}

func TestBridgeReadsAndCounts(t *testing.T) {
	src := &memSource{data: []byte("hello world")}
	b := NewBridge(context.Background(), src)

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
	assert.Equal(t, int64(11), b.Consumed())
}

func TestBridgeSeekWhenceMapping(t *testing.T) {
	src := &memSource{data: make([]byte, 100)}
	b := NewBridge(context.Background(), src)

	pos, err := b.Seek(10, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)

	pos, err = b.Seek(5, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(15), pos)

	pos, err = b.Seek(-20, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(80), pos)

	_, err = b.Seek(0, 99)
	assert.Error(t, err)

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)

	// Size must not move the position.
	pos, err = b.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(80), pos)
}

func TestBridgeBlocksUntilProgress(t *testing.T) {
	src := &growingSource{memSource: memSource{data: []byte("abcdefgh")}}
	src.written = 4
	b := NewBridge(context.Background(), src)
	b.poll = 2 * time.Millisecond

	buf := make([]byte, 8)
	n, err := io.ReadFull(b, buf[:4])
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.advance(4)
	}()

	n, err = io.ReadFull(b, buf[4:])
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("abcdefgh"), buf)
}

func TestBridgeSurfacesDownloadError(t *testing.T) {
	src := &growingSource{memSource: memSource{data: make([]byte, 100)}}
	src.written = 10
	src.err = source.ErrStalled
	b := NewBridge(context.Background(), src)
	b.poll = time.Millisecond

	_, err := io.ReadFull(b, make([]byte, 50))
	assert.ErrorIs(t, err, source.ErrStalled)
}

func TestBridgeContextCancelsWait(t *testing.T) {
	src := &growingSource{memSource: memSource{data: make([]byte, 100)}}
	src.written = 10
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	b := NewBridge(ctx, src)
	b.poll = time.Millisecond

	_, err := io.ReadFull(b, make([]byte, 50))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeCaughtUpWithoutProgressIsTerminal(t *testing.T) {
	// A source that reports caught-up but cannot report progress.
	src := &caughtUpOnly{}
	b := NewBridge(context.Background(), src)

	_, err := b.Read(make([]byte, 10))
	assert.ErrorIs(t, err, source.ErrCaughtUp)
}

type caughtUpOnly struct{}

func (caughtUpOnly) Read(p []byte) (int, error) { return 0, source.ErrCaughtUp }
func (caughtUpOnly) Seek(offset int64, whence source.Whence) (int64, error) {
	if whence == source.SizeQuery {
		return 100, nil
	}
	return 0, nil
}
func (caughtUpOnly) AbsoluteSize() int64 { return 100 }
func (caughtUpOnly) Close() error        { return nil }
