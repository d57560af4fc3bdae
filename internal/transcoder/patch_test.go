package transcoder

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// muxFixture builds a real TS stream whose first two packets are PAT and
// PMT followed by PES payload.
func muxFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	video := &mpegts.Track{PID: 0x100, Codec: &mpegts.CodecH264{}}
	audio := &mpegts.Track{PID: 0x101, Codec: &mpegts.CodecMPEG4Audio{
		Config: mpeg4audio.Config{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   48000,
			ChannelCount: 2,
		},
	}}
	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{video, audio}}
	require.NoError(t, w.Initialize())

	idr := [][]byte{
		{0x67, 0x42, 0xC0, 0x28, 0xD9, 0x00, 0x78, 0x02, 0x27, 0xE5, 0x84},
		{0x68, 0xCE, 0x3C, 0x80},
		{0x65, 0x88, 0x84, 0x00, 0x33, 0xFF},
	}
	require.NoError(t, w.WriteH264(video, 0, 0, idr))
	for i := 1; i <= 8; i++ {
		pts := int64(i * 3600)
		require.NoError(t, w.WriteH264(video, pts, pts, [][]byte{{0x41, 0x9A, 0x24, 0x6C}}))
	}
	data := buf.Bytes()
	require.GreaterOrEqual(t, len(data), 3*tsPacketSize)
	return data
}

func TestPatCacheCapture(t *testing.T) {
	ts := muxFixture(t)

	var c patCache
	c.Capture(ts)

	require.NotNil(t, c.pat)
	require.NotNil(t, c.pmt)
	assert.Equal(t, uint16(0), packetPID(c.pat))
	assert.Equal(t, c.pmtPID, packetPID(c.pmt))
	assert.NotZero(t, c.pmtPID)

	// The writer emits PAT then PMT as the leading packets.
	assert.Equal(t, ts[:tsPacketSize], c.pat)
	assert.Equal(t, ts[tsPacketSize:2*tsPacketSize], c.pmt)
}

func TestEnsureLeadingPATPrepends(t *testing.T) {
	ts := muxFixture(t)

	var c patCache
	c.Capture(ts)

	// A mid-stream segment starts with PES packets, not tables.
	seg := ts[2*tsPacketSize:]
	require.NotEqual(t, uint16(0), packetPID(seg[:tsPacketSize]))

	patched, err := c.EnsureLeadingPAT(seg)
	require.NoError(t, err)
	assert.Equal(t, len(seg)+2*tsPacketSize, len(patched))
	assert.Equal(t, uint16(0), packetPID(patched[:tsPacketSize]))
	assert.Equal(t, c.pmtPID, packetPID(patched[tsPacketSize:2*tsPacketSize]))
	assert.Equal(t, seg, patched[2*tsPacketSize:])
}

func TestEnsureLeadingPATPassThrough(t *testing.T) {
	ts := muxFixture(t)

	var c patCache
	c.Capture(ts)

	patched, err := c.EnsureLeadingPAT(ts)
	require.NoError(t, err)
	assert.Equal(t, ts, patched)
}

func TestEnsureLeadingPATUncachedTolerated(t *testing.T) {
	ts := muxFixture(t)
	seg := ts[2*tsPacketSize:]

	var c patCache
	patched, err := c.EnsureLeadingPAT(seg)
	require.NoError(t, err)
	assert.Equal(t, seg, patched)
}

func TestEnsureLeadingPATRejectsGarbage(t *testing.T) {
	var c patCache
	_, err := c.EnsureLeadingPAT([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBitstreamPatch)

	_, err = c.EnsureLeadingPAT(bytes.Repeat([]byte{0xAB}, tsPacketSize))
	assert.ErrorIs(t, err, ErrBitstreamPatch)
}
