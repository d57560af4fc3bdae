package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x64, 0x00, 0x1F, 0xAC}
	testPPS = []byte{0x68, 0xEB, 0xE3, 0xCB}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00}
	testP   = []byte{0x41, 0x9A, 0x00}
)

func TestH264ParamsExtract(t *testing.T) {
	var p H264Params
	assert.False(t, p.Ready())

	changed := p.Extract([][]byte{testSPS, testPPS, testIDR})
	assert.True(t, changed)
	assert.True(t, p.Ready())

	// Same parameters again: no change.
	assert.False(t, p.Extract([][]byte{testSPS, testPPS}))

	// A different SPS is a change.
	sps2 := append([]byte(nil), testSPS...)
	sps2[3] = 0x2A
	assert.True(t, p.Extract([][]byte{sps2}))
}

func TestH264ParamsWithParamsPrepends(t *testing.T) {
	var p H264Params
	p.Set(testSPS, testPPS)

	out := p.WithParams([][]byte{testIDR})
	require.Len(t, out, 3)
	assert.Equal(t, testSPS, out[0])
	assert.Equal(t, testPPS, out[1])
	assert.Equal(t, testIDR, out[2])
}

func TestH264ParamsWithParamsNoDoublePrepend(t *testing.T) {
	var p H264Params
	p.Set(testSPS, testPPS)

	in := [][]byte{testSPS, testPPS, testIDR}
	out := p.WithParams(in)
	assert.Equal(t, in, out)
}

func TestH264ParamsWithParamsSkipsNonKeyframes(t *testing.T) {
	var p H264Params
	p.Set(testSPS, testPPS)

	in := [][]byte{testP}
	assert.Equal(t, in, p.WithParams(in))
}

func TestH264ParamsWithParamsRequiresCache(t *testing.T) {
	var p H264Params
	in := [][]byte{testIDR}
	assert.Equal(t, in, p.WithParams(in))
}

func TestH264ParamsGetReturnsCopies(t *testing.T) {
	var p H264Params
	p.Set(testSPS, testPPS)

	sps, _ := p.Get()
	sps[0] = 0xFF
	got, _ := p.Get()
	assert.Equal(t, testSPS, got)
}
