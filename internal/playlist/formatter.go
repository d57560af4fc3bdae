// Package playlist renders HLS media playlists for the segment catalog.
package playlist

import (
	"fmt"
	"math"
	"time"

	gohlsplaylist "github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/caststream/caststream/internal/store"
)

// Params describes one playlist render.
type Params struct {
	SessionID string
	Segments  []store.SegmentInfo

	// MaxSegmentDuration backs the skeleton target duration before any
	// segment exists.
	MaxSegmentDuration float64

	// Complete appends ENDLIST.
	Complete bool

	// Host, when set, makes segment URIs absolute
	// (http://<host>/hls/<session>/segment<i>.ts). The strict receiver
	// rejects relative URIs in some firmware revisions.
	Host string
}

// Render marshals the media playlist. With zero segments a valid skeleton
// is returned so the receiver keeps polling instead of giving up.
func Render(p Params) (string, error) {
	media := &gohlsplaylist.Media{
		Version:        3,
		TargetDuration: targetDuration(p),
		MediaSequence:  mediaSequence(p.Segments),
		Endlist:        p.Complete,
	}

	for _, seg := range p.Segments {
		media.Segments = append(media.Segments, &gohlsplaylist.MediaSegment{
			Duration: time.Duration(seg.Duration * float64(time.Second)),
			URI:      p.segmentURI(seg.Index),
		})
	}

	out, err := media.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshaling playlist: %w", err)
	}
	return string(out), nil
}

func (p Params) segmentURI(index int) string {
	if p.Host != "" {
		return fmt.Sprintf("http://%s/hls/%s/segment%d.ts", p.Host, p.SessionID, index)
	}
	return fmt.Sprintf("segment%d.ts", index)
}

// targetDuration is the ceiling of the longest segment, or of the
// configured maximum while the catalog is empty.
func targetDuration(p Params) int {
	longest := 0.0
	for _, seg := range p.Segments {
		if seg.Duration > longest {
			longest = seg.Duration
		}
	}
	if longest == 0 {
		longest = p.MaxSegmentDuration
	}
	d := int(math.Ceil(longest))
	if d < 1 {
		d = 1
	}
	return d
}

// mediaSequence is the lowest present index; aged-out segments advance it.
func mediaSequence(segs []store.SegmentInfo) int {
	if len(segs) == 0 {
		return 0
	}
	lowest := segs[0].Index
	for _, seg := range segs[1:] {
		if seg.Index < lowest {
			lowest = seg.Index
		}
	}
	return lowest
}
