package demux

import (
	"bytes"
	"context"
	"testing"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFlatTrack returns a video track with two chunks of two samples each,
// constant 512-tick duration at a 12800 timescale.
func buildFlatTrack() *mp4Track {
	return &mp4Track{
		id:        1,
		timescale: 12800,
		handler:   "vide",
		isAVC:     true,
		naluLen:   4,
		stts: []gomp4.SttsEntry{
			{SampleCount: 4, SampleDelta: 512},
		},
		stsc: []gomp4.StscEntry{
			{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionIndex: 1},
		},
		stsz: &gomp4.Stsz{
			SampleCount: 4,
			EntrySize:   []uint32{10, 20, 30, 40},
		},
		chunkOffsets: []uint64{1000, 2000},
		syncList:     []uint32{1, 3},
	}
}

func TestAppendTrackSamplesFlattensTables(t *testing.T) {
	d := &MP4Demuxer{sync: make(map[*mp4Track]map[int]bool)}
	tr := buildFlatTrack()

	require.NoError(t, d.appendTrackSamples(tr))
	require.Len(t, d.samples, 4)

	assert.Equal(t, int64(1000), d.samples[0].offset)
	assert.Equal(t, int64(1010), d.samples[1].offset)
	assert.Equal(t, int64(2000), d.samples[2].offset)
	assert.Equal(t, int64(2030), d.samples[3].offset)

	assert.Equal(t, int64(0), d.samples[0].dts)
	assert.Equal(t, int64(512), d.samples[1].dts)
	assert.Equal(t, int64(1536), d.samples[3].dts)

	assert.True(t, d.sync[tr][0])
	assert.False(t, d.sync[tr][1])
	assert.True(t, d.sync[tr][2])
}

func TestAppendTrackSamplesCompositionOffsets(t *testing.T) {
	d := &MP4Demuxer{sync: make(map[*mp4Track]map[int]bool)}
	tr := buildFlatTrack()
	tr.cttsCounts = []uint32{1, 3}
	tr.ctts = []int64{0, 1024}

	require.NoError(t, d.appendTrackSamples(tr))
	assert.Equal(t, int64(0), d.samples[0].pts)
	assert.Equal(t, int64(512+1024), d.samples[1].pts)
}

func TestAppendTrackSamplesNoStssMeansAllSync(t *testing.T) {
	d := &MP4Demuxer{sync: make(map[*mp4Track]map[int]bool)}
	tr := buildFlatTrack()
	tr.syncList = nil

	require.NoError(t, d.appendTrackSamples(tr))
	for i := 0; i < 4; i++ {
		assert.True(t, d.sync[tr][i])
	}
}

func TestAppendTrackSamplesRejectsIncomplete(t *testing.T) {
	d := &MP4Demuxer{sync: make(map[*mp4Track]map[int]bool)}
	tr := buildFlatTrack()
	tr.stsz = nil
	assert.Error(t, d.appendTrackSamples(tr))

	d = &MP4Demuxer{sync: make(map[*mp4Track]map[int]bool)}
	tr = buildFlatTrack()
	tr.stts = []gomp4.SttsEntry{{SampleCount: 2, SampleDelta: 512}}
	assert.Error(t, d.appendTrackSamples(tr))
}

func TestSamplesInChunk(t *testing.T) {
	entries := []gomp4.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 3},
		{FirstChunk: 4, SamplesPerChunk: 1},
	}
	assert.Equal(t, 3, samplesInChunk(entries, 1))
	assert.Equal(t, 3, samplesInChunk(entries, 3))
	assert.Equal(t, 1, samplesInChunk(entries, 4))
	assert.Equal(t, 1, samplesInChunk(entries, 9))
}

// TestMP4DemuxerRun drives Run over a synthetic file region holding AVCC
// samples at the table offsets.
func TestMP4DemuxerRun(t *testing.T) {
	nalu := func(b ...byte) []byte { return b }
	avcc := func(nalus ...[]byte) []byte {
		var out []byte
		for _, n := range nalus {
			out = append(out, byte(len(n)>>24), byte(len(n)>>16), byte(len(n)>>8), byte(len(n)))
			out = append(out, n...)
		}
		return out
	}

	idrSample := avcc(nalu(0x65, 0x88, 0x84))
	pSample := avcc(nalu(0x41, 0x9A))

	file := make([]byte, 4096)
	copy(file[1000:], idrSample)
	copy(file[1000+len(idrSample):], pSample)

	tr := &mp4Track{
		id:        1,
		timescale: 90000,
		handler:   "vide",
		isAVC:     true,
		naluLen:   4,
		stts:      []gomp4.SttsEntry{{SampleCount: 2, SampleDelta: 3600}},
		stsc:      []gomp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 2}},
		stsz: &gomp4.Stsz{
			SampleCount: 2,
			EntrySize:   []uint32{uint32(len(idrSample)), uint32(len(pSample))},
		},
		chunkOffsets: []uint64{1000},
		syncList:     []uint32{1},
	}

	d := &MP4Demuxer{
		rs:    bytes.NewReader(file),
		video: tr,
		sync:  make(map[*mp4Track]map[int]bool),
	}
	require.NoError(t, d.appendTrackSamples(tr))

	var ptss []int64
	var keys []bool
	d.cb = Callbacks{
		OnVideo: func(pts, dts int64, au [][]byte, keyframe bool) error {
			ptss = append(ptss, pts)
			keys = append(keys, keyframe)
			require.Len(t, au, 1)
			return nil
		},
	}

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []int64{0, 3600}, ptss)
	assert.Equal(t, []bool{true, false}, keys)
}
