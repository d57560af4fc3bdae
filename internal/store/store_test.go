package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxMem int) *Store {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxMemorySegments = maxMem
	return New(cfg)
}

func TestAddGetRoundTrip(t *testing.T) {
	s := newTestStore(t, 10)
	defer s.Destroy()

	require.NoError(t, s.Add(0, 2.0, []byte("segment-zero")))
	assert.True(t, s.Has(0))
	assert.False(t, s.Has(1))
	assert.Equal(t, []byte("segment-zero"), s.Get(0))
	assert.Nil(t, s.Get(1))
	assert.Equal(t, 0, s.HighestComplete())
}

func TestAddCopiesCallerBytes(t *testing.T) {
	s := newTestStore(t, 10)
	defer s.Destroy()

	data := []byte("mutable")
	require.NoError(t, s.Add(0, 1.0, data))
	data[0] = 'X'
	assert.Equal(t, []byte("mutable"), s.Get(0))
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore(t, 10)
	defer s.Destroy()

	require.NoError(t, s.Add(0, 1.0, []byte("abc")))
	got := s.Get(0)
	got[0] = 'X'
	assert.Equal(t, []byte("abc"), s.Get(0))
}

func TestSpillOverCapAndReadBack(t *testing.T) {
	s := newTestStore(t, 2)
	defer s.Destroy()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Add(i, 2.0, []byte(fmt.Sprintf("segment-%d", i))))
	}

	// Spills run in the background; wait for the memory population to
	// drop to the cap.
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		inMem := 0
		for _, e := range s.segments {
			if e.data != nil {
				inMem++
			}
		}
		return inMem <= 2
	}, 2*time.Second, 10*time.Millisecond)

	// Every segment remains retrievable, spilled or not.
	for i := 0; i < 5; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("segment-%d", i)), s.Get(i), "segment %d", i)
	}
	assert.Equal(t, 4, s.HighestComplete())

	files, err := filepath.Glob(filepath.Join(s.cfg.SessionDir, "segment*.ts"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}

func TestSegmentsOrdered(t *testing.T) {
	s := newTestStore(t, 10)
	defer s.Destroy()

	require.NoError(t, s.Add(0, 2.0, []byte("a")))
	require.NoError(t, s.Add(1, 2.5, []byte("bb")))
	require.NoError(t, s.Add(2, 1.5, []byte("ccc")))

	segs := s.Segments()
	require.Len(t, segs, 3)
	for i, seg := range segs {
		assert.Equal(t, i, seg.Index)
	}
	assert.Equal(t, 2.5, segs[1].Duration)
	assert.Equal(t, 3, segs[2].Size)
}

func TestSweepRemovesExpired(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SegmentTTL = 10 * time.Millisecond
	s := New(cfg)
	defer s.Destroy()

	require.NoError(t, s.Add(0, 2.0, []byte("old")))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Add(1, 2.0, []byte("new")))

	removed := s.Sweep()
	assert.GreaterOrEqual(t, removed, 1)
	assert.False(t, s.Has(0))
}

func TestDestroyRemovesSessionDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	cfg := DefaultConfig(dir)
	cfg.MaxMemorySegments = 1
	s := New(cfg)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Add(i, 2.0, []byte("data")))
	}
	require.NoError(t, s.Destroy())

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, s.Add(9, 1.0, []byte("late")), ErrDestroyed)
}

func TestWriteFailureDowngradesToMemory(t *testing.T) {
	// A file where the session dir should be makes MkdirAll fail.
	base := t.TempDir()
	blocked := filepath.Join(base, "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	cfg := DefaultConfig(blocked)
	cfg.MaxMemorySegments = 1
	s := New(cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(i, 2.0, []byte(fmt.Sprintf("seg-%d", i))))
	}

	require.Eventually(t, func() bool {
		return s.WriteFailures() > 0
	}, 2*time.Second, 10*time.Millisecond)

	// Segments survive in memory despite the failed spill.
	for i := 0; i < 3; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("seg-%d", i)), s.Get(i))
	}
}
