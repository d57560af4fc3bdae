package transcoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/caststream/caststream/internal/ffmpeg"
)

// Engine runs FFmpeg as the codec backend: container in on stdin,
// continuous MPEG-TS out on stdout, which the native pipeline then
// consumes like any other TS source.
type Engine struct {
	Binary string
	Job    ffmpeg.JobConfig
	Logger *slog.Logger

	// fallbackEncoder lets a copy-video job switch to encoding when the
	// demuxed stream turns out not to be H.264.
	fallbackEncoder string
}

// NewEngine builds an engine from a classification. Streams the pre-scan
// cleared are copied; the rest are encoded.
func NewEngine(binary string, info *ffmpeg.BinaryInfo, c Classification, preferSoftware bool, opts JobOptions, logger *slog.Logger) (*Engine, error) {
	job := ffmpeg.JobConfig{
		CopyVideo:       !c.NeedsVideoTranscode,
		CopyAudio:       !c.NeedsAudioTranscode,
		VideoBitrate:    opts.VideoBitrate,
		AudioBitrate:    opts.AudioBitrate,
		GOPSize:         opts.GOPSize,
		AudioSampleRate: opts.AudioSampleRate,
		AudioChannels:   opts.AudioChannels,
	}
	e := &Engine{Binary: binary, Job: job, Logger: logger}

	enc, encErr := ffmpeg.SelectH264Encoder(info, preferSoftware)
	if encErr == nil {
		e.fallbackEncoder = enc
	}
	if c.NeedsVideoTranscode {
		if encErr != nil {
			return nil, encErr
		}
		e.Job.VideoEncoder = enc
	}
	return e, nil
}

// JobOptions carries the encoder knobs from configuration.
type JobOptions struct {
	VideoBitrate    string
	AudioBitrate    string
	GOPSize         int
	AudioSampleRate int
	AudioChannels   int
}

// ForceVideoTranscode switches a copy-video job to encoding. Fails when no
// H.264 encoder was available at detection time.
func (e *Engine) ForceVideoTranscode() error {
	if !e.Job.CopyVideo {
		return nil
	}
	if e.fallbackEncoder == "" {
		return fmt.Errorf("%w: source video is not h264 and no h264 encoder is available", ErrCodecFailure)
	}
	e.Job.CopyVideo = false
	e.Job.VideoEncoder = e.fallbackEncoder
	return nil
}

// ForceAudioTranscode switches a copy-audio job to AAC encoding.
func (e *Engine) ForceAudioTranscode() {
	e.Job.CopyAudio = false
}

// Start launches the process reading the container from input.
func (e *Engine) Start(ctx context.Context, input io.Reader) (*ffmpeg.Process, error) {
	args := ffmpeg.BuildArgs(e.Job)
	proc, err := ffmpeg.Start(ctx, e.Binary, args, input, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecFailure, err)
	}
	return proc, nil
}
