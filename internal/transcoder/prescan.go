package transcoder

import (
	"net/url"
	"path"
	"strings"

	"github.com/caststream/caststream/internal/ffmpeg"
	"github.com/caststream/caststream/internal/source"
)

// Classification is the pre-scan verdict: which streams need a full
// transcode and which can be copied into the output container.
type Classification struct {
	NeedsRemux          bool   `json:"needsRemux"`
	NeedsVideoTranscode bool   `json:"needsVideoTranscode"`
	NeedsAudioTranscode bool   `json:"needsAudioTranscode"`
	Reason              string `json:"reason"`
}

// Transcode reports whether any stream runs through an encoder.
func (c Classification) Transcode() bool {
	return c.NeedsVideoTranscode || c.NeedsAudioTranscode
}

// Mode returns the short label used in logs and the session journal.
func (c Classification) Mode() string {
	if c.Transcode() {
		return "transcode"
	}
	return "remux"
}

// Release titles encode codecs; these tokens are matched case-insensitively
// against the caller-provided title.
var (
	videoTranscodeTokens = []string{"hevc", "h265", "h.265", "x265"}
	audioTranscodeTokens = []string{"ddp", "dd+", "e-ac3", "eac3", "ac3", "dts", "truehd"}
)

// Prescan classifies a source from its descriptor before any bytes are
// read: the URL's query `type` parameter, the trailing path extension, and
// the title string.
func Prescan(desc source.Descriptor) Classification {
	c := Classification{NeedsRemux: true, Reason: "default remux"}

	mime, ext := urlHints(desc.URL)
	if strings.Contains(mime, "x-matroska") || ext == ".mkv" {
		c.Reason = "matroska container"
	}

	title := strings.ToLower(desc.Title)
	for _, tok := range videoTranscodeTokens {
		if strings.Contains(title, tok) {
			c.NeedsVideoTranscode = true
			c.Reason = "title indicates " + tok + " video"
			break
		}
	}
	for _, tok := range audioTranscodeTokens {
		if strings.Contains(title, tok) {
			c.NeedsAudioTranscode = true
			if c.NeedsVideoTranscode {
				c.Reason += ", " + tok + " audio"
			} else {
				c.Reason = "title indicates " + tok + " audio"
			}
			break
		}
	}
	return c
}

// ApplyEncoderAvailability degrades video transcode to remux when no H.264
// encoder exists, recording the reason.
func ApplyEncoderAvailability(c Classification, info *ffmpeg.BinaryInfo, preferSoftware bool) Classification {
	if !c.NeedsVideoTranscode {
		return c
	}
	if _, err := ffmpeg.SelectH264Encoder(info, preferSoftware); err != nil {
		c.NeedsVideoTranscode = false
		c.Reason += "; h264 encoder unavailable, degraded to remux"
	}
	return c
}

// urlHints extracts the query `type` MIME hint and the path extension.
func urlHints(raw string) (mime, ext string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	mime = strings.ToLower(u.Query().Get("type"))
	ext = strings.ToLower(path.Ext(u.Path))
	return mime, ext
}
