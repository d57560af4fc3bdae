package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioFIFOPTSLedger(t *testing.T) {
	f := NewAudioFIFO(48000)
	f.SetBase(90000)

	f.Write([]byte{1})
	f.Write([]byte{2})
	f.Write([]byte{3})

	au, pts, ok := f.Read()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, au)
	assert.Equal(t, int64(90000), pts)

	_, pts, ok = f.Read()
	require.True(t, ok)
	assert.Equal(t, int64(90000+1920), pts, "1024 samples at 48 kHz is 1920 ticks")

	_, pts, ok = f.Read()
	require.True(t, ok)
	assert.Equal(t, int64(90000+3840), pts)

	_, _, ok = f.Read()
	assert.False(t, ok)
	assert.Equal(t, int64(3*1024), f.Samples())
}

func TestAudioFIFOBaseAnchorsOnce(t *testing.T) {
	f := NewAudioFIFO(44100)
	f.SetBase(1000)
	f.SetBase(999999) // ignored

	f.Write([]byte{1})
	_, pts, ok := f.Read()
	require.True(t, ok)
	assert.Equal(t, int64(1000), pts)
}

func TestAudioFIFOCopiesInput(t *testing.T) {
	f := NewAudioFIFO(48000)
	buf := []byte{1, 2, 3}
	f.Write(buf)
	buf[0] = 99

	au, _, ok := f.Read()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, au)
}

func TestAudioFIFODropsEmpty(t *testing.T) {
	f := NewAudioFIFO(48000)
	f.Write(nil)
	assert.Zero(t, f.Len())
}
