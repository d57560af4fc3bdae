package codec

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeASC(t *testing.T) {
	tests := []struct {
		rate     int
		channels int
		want     []byte
	}{
		{48000, 2, []byte{0x11, 0x90}},
		{44100, 2, []byte{0x12, 0x10}},
		{48000, 1, []byte{0x11, 0x88}},
		{96000, 2, []byte{0x10, 0x10}},
	}
	for _, tt := range tests {
		got, err := SynthesizeASC(tt.rate, tt.channels)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "rate=%d channels=%d", tt.rate, tt.channels)
	}
}

func TestSynthesizeASCRejectsUnknown(t *testing.T) {
	_, err := SynthesizeASC(48001, 2)
	assert.Error(t, err)

	_, err = SynthesizeASC(48000, 0)
	assert.Error(t, err)

	_, err = SynthesizeASC(48000, 8)
	assert.Error(t, err)
}

// The hand-packed bytes must agree with the structured encoder.
func TestSynthesizeASCMatchesMediacommon(t *testing.T) {
	for _, rate := range ascSampleRates {
		for channels := 1; channels <= 7; channels++ {
			asc, err := SynthesizeASC(rate, channels)
			require.NoError(t, err)

			want, err := (&mpeg4audio.Config{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   rate,
				ChannelCount: channels,
			}).Marshal()
			require.NoError(t, err)
			assert.Equal(t, want, asc, "rate=%d channels=%d", rate, channels)
		}
	}
}

func TestASCConfigParses(t *testing.T) {
	c, err := ASCConfig([]byte{0x11, 0x90})
	require.NoError(t, err)
	assert.Equal(t, 48000, c.SampleRate)
	assert.Equal(t, 2, c.ChannelCount)
	assert.Equal(t, mpeg4audio.ObjectTypeAACLC, c.Type)
}

func TestAACLCConfig(t *testing.T) {
	c, err := AACLCConfig(44100, 2)
	require.NoError(t, err)
	assert.Equal(t, 44100, c.SampleRate)
	assert.Equal(t, 2, c.ChannelCount)
}
