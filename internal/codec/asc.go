package codec

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ISO 14496-3 sampling frequency index table.
var ascSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// SynthesizeASC builds the 2-byte AudioSpecificConfig for AAC-LC:
//
//	(objectType=2)<<11 | srIndex<<7 | channelConfig<<3
//
// The encoder's extradata is not always surfaced before the first output
// packet, so the muxer header is fed from this synthesized form.
func SynthesizeASC(sampleRate, channels int) ([]byte, error) {
	idx := -1
	for i, r := range ascSampleRates {
		if r == sampleRate {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("sample rate %d has no AAC sampling frequency index", sampleRate)
	}
	if channels < 1 || channels > 7 {
		return nil, fmt.Errorf("channel count %d has no AAC channel configuration", channels)
	}
	v := uint16(2)<<11 | uint16(idx)<<7 | uint16(channels)<<3
	return []byte{byte(v >> 8), byte(v)}, nil
}

// ASCConfig parses an AudioSpecificConfig into its structured form.
func ASCConfig(asc []byte) (*mpeg4audio.Config, error) {
	var c mpeg4audio.Config
	if err := c.Unmarshal(asc); err != nil {
		return nil, fmt.Errorf("parsing AudioSpecificConfig: %w", err)
	}
	return &c, nil
}

// AACLCConfig returns the structured AAC-LC config for a rate and channel
// count, consistent with SynthesizeASC.
func AACLCConfig(sampleRate, channels int) (*mpeg4audio.Config, error) {
	asc, err := SynthesizeASC(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return ASCConfig(asc)
}
