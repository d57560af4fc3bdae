package demux

import (
	"context"
	"errors"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ErrNoSupportedTracks is returned when a container holds neither an H.264
// video track nor an AAC audio track.
var ErrNoSupportedTracks = errors.New("no supported tracks found")

// Callbacks receives demuxed access units. Video units are NAL unit slices
// without start codes or length prefixes; audio units are raw AAC frames.
// All timestamps are 90 kHz ticks.
type Callbacks struct {
	OnVideo func(pts, dts int64, au [][]byte, keyframe bool) error
	OnAudio func(pts int64, au []byte) error
}

// TrackInfo describes the tracks discovered during initialization.
type TrackInfo struct {
	VideoCodec string // "h264", "h265" or empty
	AudioCodec string // "aac", "ac3" or empty

	// Out-of-band H.264 parameter sets, when the container carries them.
	SPS []byte
	PPS []byte

	// AAC configuration, when known before the first frame.
	AudioConfig *mpeg4audio.Config
}

// Demuxer pulls a container apart into timed access units.
type Demuxer interface {
	// Info returns the discovered tracks. Valid after construction.
	Info() TrackInfo

	// Run pumps access units into the callbacks until end of stream or a
	// fatal error. Returns nil on normal EOF.
	Run(ctx context.Context) error

	Close() error
}
