package ffmpeg

import (
	"fmt"
	"strings"
)

// JobConfig describes one transcode job reading a container on stdin and
// writing continuous MPEG-TS on stdout.
type JobConfig struct {
	// Per-stream copy/transcode decisions from the pre-scan.
	CopyVideo bool
	CopyAudio bool

	// VideoEncoder is the selected H.264 encoder, usually libx264.
	VideoEncoder string

	VideoBitrate string // e.g. "4000k"
	AudioBitrate string // e.g. "192k"

	GOPSize         int // frames between forced keyframes
	AudioSampleRate int
	AudioChannels   int

	// AnnexBFilter applies h264_mp4toannexb on copied video from
	// length-prefixed containers.
	AnnexBFilter bool
}

// BuildArgs assembles the argument list. Input is always pipe:0 and output
// pipe:1; the caller owns both ends.
func BuildArgs(cfg JobConfig) []string {
	if cfg.VideoEncoder == "" {
		cfg.VideoEncoder = "libx264"
	}
	if cfg.VideoBitrate == "" {
		cfg.VideoBitrate = "4000k"
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = "192k"
	}
	if cfg.GOPSize <= 0 {
		cfg.GOPSize = 48
	}
	if cfg.AudioSampleRate <= 0 {
		cfg.AudioSampleRate = 48000
	}
	if cfg.AudioChannels <= 0 {
		cfg.AudioChannels = 2
	}

	// Pipe input: small probe window so output starts quickly.
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "+genpts+discardcorrupt",
		"-err_detect", "ignore_err",
		"-analyzeduration", "5000000",
		"-probesize", "5000000",
		"-avoid_negative_ts", "make_zero",
		"-i", "pipe:0",
		"-map", "0:v:0",
		"-map", "0:a:0?",
	}

	if cfg.CopyVideo {
		args = append(args, "-c:v", "copy")
		if cfg.AnnexBFilter {
			args = append(args, "-bsf:v", "h264_mp4toannexb")
		}
	} else {
		args = append(args,
			"-c:v", cfg.VideoEncoder,
			"-pix_fmt", "yuv420p",
			"-b:v", cfg.VideoBitrate,
			"-maxrate", cfg.VideoBitrate,
			"-bufsize", doubled(cfg.VideoBitrate),
			"-g", fmt.Sprintf("%d", cfg.GOPSize),
			"-sc_threshold", "0",
			"-bf", "0",
			"-profile:v", "high",
			"-level:v", "4.1",
		)
		if cfg.VideoEncoder == "libx264" {
			args = append(args,
				"-preset", "veryfast",
				"-x264opts", "repeat-headers=1:sliced-threads=1",
			)
		}
	}

	if cfg.CopyAudio {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args,
			"-c:a", "aac",
			"-b:a", cfg.AudioBitrate,
			"-ar", fmt.Sprintf("%d", cfg.AudioSampleRate),
			"-ac", fmt.Sprintf("%d", cfg.AudioChannels),
		)
	}

	// Continuous TS: PAT/PMT resent at keyframes, 20 ms PCR period, no
	// interleave delay, per-packet flush.
	args = append(args,
		"-f", "mpegts",
		"-mpegts_flags", "+resend_headers",
		"-pcr_period", "20",
		"-muxdelay", "0",
		"-muxpreload", "0",
		"-flush_packets", "1",
		"pipe:1",
	)
	return args
}

// doubled returns twice a bitrate expressed like "4000k", used for the VBV
// buffer size. Unparseable values pass through unchanged.
func doubled(bitrate string) string {
	s := strings.TrimSuffix(bitrate, "k")
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return bitrate
	}
	return fmt.Sprintf("%dk", 2*n)
}
