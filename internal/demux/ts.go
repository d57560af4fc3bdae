package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/caststream/caststream/internal/codec"
)

// TSDemuxer extracts access units from an MPEG-TS stream. Initialization
// reads until PAT and PMT are found; track callbacks then deliver complete
// access units already in the 90 kHz timebase.
type TSDemuxer struct {
	reader *mpegts.Reader
	cb     Callbacks
	info   TrackInfo
	logger *slog.Logger

	// AAC access unit groups share one PES timestamp; per-unit PTS is
	// derived from the frame duration.
	audioFrameTicks int64
}

// NewTSDemuxer initializes a demuxer over a continuous MPEG-TS byte stream.
func NewTSDemuxer(r io.Reader, cb Callbacks, logger *slog.Logger) (*TSDemuxer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &TSDemuxer{
		reader: &mpegts.Reader{R: r},
		cb:     cb,
		logger: logger.With(slog.String("component", "ts-demuxer")),
	}

	if err := d.reader.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing MPEG-TS reader: %w", err)
	}

	for _, track := range d.reader.Tracks() {
		d.bindTrack(track)
	}
	if d.info.VideoCodec == "" && d.info.AudioCodec == "" {
		return nil, ErrNoSupportedTracks
	}

	d.reader.OnDecodeError(func(err error) {
		d.logger.Debug("decode error", slog.String("error", err.Error()))
	})

	d.logger.Debug("initialized",
		slog.String("video_codec", d.info.VideoCodec),
		slog.String("audio_codec", d.info.AudioCodec))
	return d, nil
}

func (d *TSDemuxer) bindTrack(track *mpegts.Track) {
	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		d.info.VideoCodec = "h264"
		d.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			if len(au) == 0 || d.cb.OnVideo == nil {
				return nil
			}
			return d.cb.OnVideo(pts, dts, au, h264.IsRandomAccess(au))
		})

	case *mpegts.CodecH265:
		// Reported for pre-scan classification; the pipeline routes H.265
		// input through the transcode path, never through remux.
		d.info.VideoCodec = "h265"

	case *mpegts.CodecMPEG4Audio:
		d.info.AudioCodec = "aac"
		cfg := c.Config
		d.info.AudioConfig = &cfg
		rate := cfg.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		d.audioFrameTicks = codec.Rescale(codec.FrameSize, codec.SampleRateTB(rate), codec.TB90k)
		d.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			if d.cb.OnAudio == nil {
				return nil
			}
			for _, au := range aus {
				if len(au) == 0 {
					continue
				}
				if err := d.cb.OnAudio(pts, au); err != nil {
					return err
				}
				pts += d.audioFrameTicks
			}
			return nil
		})

	case *mpegts.CodecAC3:
		d.info.AudioCodec = "ac3"

	default:
		d.logger.Debug("ignoring track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
}

// Info returns the discovered tracks.
func (d *TSDemuxer) Info() TrackInfo {
	return d.info
}

// Run reads packets until EOF or a fatal error.
func (d *TSDemuxer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}

// Close releases the demuxer. The underlying reader is owned by the caller.
func (d *TSDemuxer) Close() error {
	return nil
}
