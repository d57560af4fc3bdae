package transcoder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caststream/caststream/internal/ffmpeg"
	"github.com/caststream/caststream/internal/source"
)

func TestPrescanClassification(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		title string
		video bool
		audio bool
	}{
		{"plain mp4", "http://host/movie.mp4", "Some.Movie.2020.1080p", false, false},
		{"mkv extension", "http://host/movie.mkv", "Some.Movie", false, false},
		{"matroska mime", "http://host/stream?type=video%2Fx-matroska", "Movie", false, false},
		{"hevc title", "http://host/m.mp4", "Movie.2160p.HEVC.WEB-DL", true, false},
		{"x265 title", "http://host/m.mp4", "movie.x265-GROUP", true, false},
		{"h.265 title", "http://host/m.mp4", "Movie H.265 10bit", true, false},
		{"ddp audio", "http://host/m.mp4", "Movie.DDP5.1.H264", false, true},
		{"eac3 audio", "http://host/m.mp4", "Movie EAC3 surround", false, true},
		{"truehd audio", "http://host/m.mkv", "Movie.TrueHD.Atmos", false, true},
		{"both", "http://host/m.mkv", "Movie.2160p.x265.DDP5.1", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Prescan(source.Descriptor{
				Kind:  source.KindProgressiveHTTP,
				URL:   tt.url,
				Title: tt.title,
			})
			assert.Equal(t, tt.video, c.NeedsVideoTranscode, "video")
			assert.Equal(t, tt.audio, c.NeedsAudioTranscode, "audio")
			assert.NotEmpty(t, c.Reason)
			if tt.video || tt.audio {
				assert.Equal(t, "transcode", c.Mode())
			} else {
				assert.Equal(t, "remux", c.Mode())
			}
		})
	}
}

func TestApplyEncoderAvailability(t *testing.T) {
	c := Classification{NeedsVideoTranscode: true, Reason: "title indicates hevc video"}

	withEncoder := &ffmpeg.BinaryInfo{Encoders: []string{"libx264"}}
	got := ApplyEncoderAvailability(c, withEncoder, true)
	assert.True(t, got.NeedsVideoTranscode)

	noEncoder := &ffmpeg.BinaryInfo{Encoders: []string{"aac"}}
	got = ApplyEncoderAvailability(c, noEncoder, true)
	assert.False(t, got.NeedsVideoTranscode)
	assert.Contains(t, got.Reason, "degraded to remux")

	// Audio-only transcode is unaffected by encoder availability.
	a := Classification{NeedsAudioTranscode: true, Reason: "x"}
	got = ApplyEncoderAvailability(a, noEncoder, true)
	assert.True(t, got.NeedsAudioTranscode)
}
