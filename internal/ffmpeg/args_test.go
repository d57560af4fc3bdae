package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func argString(cfg JobConfig) string {
	return strings.Join(BuildArgs(cfg), " ")
}

func TestBuildArgsTranscode(t *testing.T) {
	s := argString(JobConfig{VideoEncoder: "libx264"})

	assert.Contains(t, s, "-i pipe:0")
	assert.Contains(t, s, "-c:v libx264")
	assert.Contains(t, s, "-g 48")
	assert.Contains(t, s, "-bf 0")
	assert.Contains(t, s, "-profile:v high")
	assert.Contains(t, s, "-level:v 4.1")
	assert.Contains(t, s, "repeat-headers=1")
	assert.Contains(t, s, "-c:a aac")
	assert.Contains(t, s, "-b:a 192k")
	assert.Contains(t, s, "-ar 48000")
	assert.Contains(t, s, "-f mpegts")
	assert.Contains(t, s, "-mpegts_flags +resend_headers")
	assert.Contains(t, s, "-pcr_period 20")
	assert.Contains(t, s, "-muxdelay 0")
	assert.True(t, strings.HasSuffix(s, "pipe:1"))
}

func TestBuildArgsCopyModes(t *testing.T) {
	s := argString(JobConfig{CopyVideo: true, CopyAudio: true})
	assert.Contains(t, s, "-c:v copy")
	assert.Contains(t, s, "-c:a copy")
	assert.NotContains(t, s, "libx264")
	assert.NotContains(t, s, "h264_mp4toannexb")

	s = argString(JobConfig{CopyVideo: true, AnnexBFilter: true})
	assert.Contains(t, s, "-bsf:v h264_mp4toannexb")
	assert.Contains(t, s, "-c:a aac")
}

func TestBuildArgsHardwareEncoderSkipsX264Opts(t *testing.T) {
	s := argString(JobConfig{VideoEncoder: "h264_nvenc"})
	assert.Contains(t, s, "-c:v h264_nvenc")
	assert.NotContains(t, s, "x264opts")
}

func TestBuildArgsBitrates(t *testing.T) {
	s := argString(JobConfig{VideoBitrate: "2500k", AudioBitrate: "128k"})
	assert.Contains(t, s, "-b:v 2500k")
	assert.Contains(t, s, "-maxrate 2500k")
	assert.Contains(t, s, "-bufsize 5000k")
	assert.Contains(t, s, "-b:a 128k")
}

func TestDoubled(t *testing.T) {
	assert.Equal(t, "8000k", doubled("4000k"))
	assert.Equal(t, "whatever", doubled("whatever"))
}
