package playlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caststream/caststream/internal/store"
)

func render(t *testing.T, p Params) string {
	t.Helper()
	out, err := Render(p)
	require.NoError(t, err)
	return out
}

func TestRenderSkeletonWhenEmpty(t *testing.T) {
	out := render(t, Params{SessionID: "s1", MaxSegmentDuration: 4.0})

	assert.True(t, strings.HasPrefix(out, "#EXTM3U"))
	assert.Contains(t, out, "#EXT-X-VERSION:3")
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:4")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")
	assert.NotContains(t, out, "#EXTINF")
}

func TestRenderSegmentsRelative(t *testing.T) {
	out := render(t, Params{
		SessionID: "s1",
		Segments: []store.SegmentInfo{
			{Index: 0, Duration: 2.0},
			{Index: 1, Duration: 2.5},
			{Index: 2, Duration: 1.9},
		},
		MaxSegmentDuration: 4.0,
	})

	assert.Contains(t, out, "#EXT-X-TARGETDURATION:3")
	assert.Contains(t, out, "segment0.ts")
	assert.Contains(t, out, "segment1.ts")
	assert.Contains(t, out, "segment2.ts")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")

	// Segments appear in index order.
	assert.Less(t, strings.Index(out, "segment0.ts"), strings.Index(out, "segment1.ts"))
	assert.Less(t, strings.Index(out, "segment1.ts"), strings.Index(out, "segment2.ts"))
}

func TestRenderAbsoluteURLs(t *testing.T) {
	out := render(t, Params{
		SessionID:          "abc",
		Host:               "192.168.1.20:8654",
		Segments:           []store.SegmentInfo{{Index: 0, Duration: 2.0}},
		MaxSegmentDuration: 4.0,
	})

	assert.Contains(t, out, "http://192.168.1.20:8654/hls/abc/segment0.ts")
}

func TestRenderEndlistOnlyWhenComplete(t *testing.T) {
	p := Params{
		SessionID:          "s1",
		Segments:           []store.SegmentInfo{{Index: 0, Duration: 2.0}},
		MaxSegmentDuration: 4.0,
	}

	assert.NotContains(t, render(t, p), "#EXT-X-ENDLIST")
	p.Complete = true
	assert.Contains(t, render(t, p), "#EXT-X-ENDLIST")
}

func TestRenderMediaSequenceFollowsLowestIndex(t *testing.T) {
	out := render(t, Params{
		SessionID: "s1",
		Segments: []store.SegmentInfo{
			{Index: 4, Duration: 2.0},
			{Index: 5, Duration: 2.0},
		},
		MaxSegmentDuration: 4.0,
	})

	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:4")
	assert.NotContains(t, out, "segment3.ts")
}
