package demux

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	gomp4 "github.com/abema/go-mp4"

	"github.com/caststream/caststream/internal/codec"
)

// mp4Track accumulates the sample tables of one trak box.
type mp4Track struct {
	id        uint32
	timescale uint32
	handler   string

	// video
	isAVC    bool
	sps      []byte
	pps      []byte
	naluLen  int
	syncList []uint32

	// audio
	asc []byte

	stts         []gomp4.SttsEntry
	ctts         []int64 // per-entry composition offsets, expanded lazily
	cttsCounts   []uint32
	stsc         []gomp4.StscEntry
	stsz         *gomp4.Stsz
	chunkOffsets []uint64
}

// mp4Sample is one fully resolved sample.
type mp4Sample struct {
	track  *mp4Track
	offset int64
	size   int
	dts    int64 // track timescale
	pts    int64
}

// MP4Demuxer extracts access units from a non-fragmented MP4 file. The moov
// box is parsed up front into flat sample tables; Run then walks the samples
// in file-offset order so a progressively downloading source is read close
// to sequentially.
type MP4Demuxer struct {
	rs     io.ReadSeeker
	cb     Callbacks
	info   TrackInfo
	logger *slog.Logger

	video   *mp4Track
	audio   *mp4Track
	samples []mp4Sample
	sync    map[*mp4Track]map[int]bool // sample index (0-based) -> keyframe
}

var mp4Containers = map[string]bool{
	"moov": true, "trak": true, "mdia": true, "minf": true,
	"stbl": true, "stsd": true, "avc1": true, "avc3": true, "mp4a": true,
}

// NewMP4Demuxer parses the moov box and resolves the sample tables.
func NewMP4Demuxer(rs io.ReadSeeker, cb Callbacks, logger *slog.Logger) (*MP4Demuxer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &MP4Demuxer{
		rs:     rs,
		cb:     cb,
		logger: logger.With(slog.String("component", "mp4-demuxer")),
		sync:   make(map[*mp4Track]map[int]bool),
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := d.parseBoxes(); err != nil {
		return nil, err
	}
	if err := d.resolveTracks(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *MP4Demuxer) parseBoxes() error {
	var cur *mp4Track
	var tracks []*mp4Track

	_, err := gomp4.ReadBoxStructure(d.rs, func(h *gomp4.ReadHandle) (interface{}, error) {
		typ := h.BoxInfo.Type.String()
		if mp4Containers[typ] {
			if typ == "trak" {
				cur = &mp4Track{naluLen: 4}
				tracks = append(tracks, cur)
			}
			return h.Expand()
		}
		if cur == nil {
			return nil, nil
		}

		switch typ {
		case "tkhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.id = box.(*gomp4.Tkhd).TrackID

		case "mdhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.timescale = box.(*gomp4.Mdhd).Timescale

		case "hdlr":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			ht := box.(*gomp4.Hdlr).HandlerType
			cur.handler = string(ht[:])

		case "avcC":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			avcc := box.(*gomp4.AVCDecoderConfiguration)
			cur.isAVC = true
			cur.naluLen = int(avcc.LengthSizeMinusOne) + 1
			if len(avcc.SequenceParameterSets) > 0 {
				cur.sps = append([]byte(nil), avcc.SequenceParameterSets[0].NALUnit...)
			}
			if len(avcc.PictureParameterSets) > 0 {
				cur.pps = append([]byte(nil), avcc.PictureParameterSets[0].NALUnit...)
			}

		case "esds":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			for _, desc := range box.(*gomp4.Esds).Descriptors {
				if desc.Tag == gomp4.DecSpecificInfoTag {
					cur.asc = append([]byte(nil), desc.Data...)
				}
			}

		case "stts":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.stts = box.(*gomp4.Stts).Entries

		case "ctts":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			ctts := box.(*gomp4.Ctts)
			for _, e := range ctts.Entries {
				cur.cttsCounts = append(cur.cttsCounts, e.SampleCount)
				if ctts.Version == 0 {
					cur.ctts = append(cur.ctts, int64(e.SampleOffsetV0))
				} else {
					cur.ctts = append(cur.ctts, int64(e.SampleOffsetV1))
				}
			}

		case "stss":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.syncList = box.(*gomp4.Stss).SampleNumber

		case "stsc":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.stsc = box.(*gomp4.Stsc).Entries

		case "stsz":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.stsz = box.(*gomp4.Stsz)

		case "stco":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			for _, off := range box.(*gomp4.Stco).ChunkOffset {
				cur.chunkOffsets = append(cur.chunkOffsets, uint64(off))
			}

		case "co64":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.chunkOffsets = append(cur.chunkOffsets, box.(*gomp4.Co64).ChunkOffset...)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("parsing MP4 structure: %w", err)
	}

	for _, t := range tracks {
		switch {
		case t.handler == "vide" && t.isAVC && d.video == nil:
			d.video = t
		case t.handler == "soun" && t.asc != nil && d.audio == nil:
			d.audio = t
		}
	}
	return nil
}

func (d *MP4Demuxer) resolveTracks() error {
	if d.video == nil && d.audio == nil {
		return ErrNoSupportedTracks
	}

	if d.video != nil {
		d.info.VideoCodec = "h264"
		d.info.SPS = d.video.sps
		d.info.PPS = d.video.pps
		if err := d.appendTrackSamples(d.video); err != nil {
			return fmt.Errorf("video track: %w", err)
		}
	}
	if d.audio != nil {
		d.info.AudioCodec = "aac"
		cfg, err := codec.ASCConfig(d.audio.asc)
		if err != nil {
			return err
		}
		d.info.AudioConfig = cfg
		if err := d.appendTrackSamples(d.audio); err != nil {
			return fmt.Errorf("audio track: %w", err)
		}
	}
	if len(d.samples) == 0 {
		return fmt.Errorf("no samples found; fragmented MP4 is not supported here")
	}

	sort.SliceStable(d.samples, func(i, j int) bool {
		return d.samples[i].offset < d.samples[j].offset
	})
	return nil
}

// appendTrackSamples flattens the stsc/stsz/stco/stts/ctts tables into
// per-sample records.
func (d *MP4Demuxer) appendTrackSamples(t *mp4Track) error {
	if t.timescale == 0 || t.stsz == nil || len(t.stsc) == 0 || len(t.chunkOffsets) == 0 {
		return fmt.Errorf("incomplete sample tables")
	}

	sampleCount := int(t.stsz.SampleCount)

	// Durations.
	dts := make([]int64, 0, sampleCount)
	var clock int64
	for _, e := range t.stts {
		for i := uint32(0); i < e.SampleCount && len(dts) < sampleCount; i++ {
			dts = append(dts, clock)
			clock += int64(e.SampleDelta)
		}
	}
	if len(dts) != sampleCount {
		return fmt.Errorf("stts covers %d of %d samples", len(dts), sampleCount)
	}

	// Composition offsets.
	cts := make([]int64, sampleCount)
	idx := 0
	for i, count := range t.cttsCounts {
		for j := uint32(0); j < count && idx < sampleCount; j++ {
			cts[idx] = t.ctts[i]
			idx++
		}
	}

	// Sync samples. Absent stss means every sample is a keyframe.
	syncSet := make(map[int]bool, len(t.syncList))
	if len(t.syncList) == 0 {
		for i := 0; i < sampleCount; i++ {
			syncSet[i] = true
		}
	} else {
		for _, n := range t.syncList {
			syncSet[int(n)-1] = true
		}
	}
	d.sync[t] = syncSet

	// Chunk walk.
	sampleIdx := 0
	for chunk := 0; chunk < len(t.chunkOffsets); chunk++ {
		perChunk := samplesInChunk(t.stsc, chunk+1)
		offset := int64(t.chunkOffsets[chunk])
		for i := 0; i < perChunk && sampleIdx < sampleCount; i++ {
			size := int(t.stsz.SampleSize)
			if size == 0 {
				size = int(t.stsz.EntrySize[sampleIdx])
			}
			d.samples = append(d.samples, mp4Sample{
				track:  t,
				offset: offset,
				size:   size,
				dts:    dts[sampleIdx],
				pts:    dts[sampleIdx] + cts[sampleIdx],
			})
			offset += int64(size)
			sampleIdx++
		}
	}
	if sampleIdx != sampleCount {
		return fmt.Errorf("chunk tables cover %d of %d samples", sampleIdx, sampleCount)
	}
	return nil
}

// samplesInChunk resolves the stsc run covering a 1-based chunk number.
func samplesInChunk(entries []gomp4.StscEntry, chunk int) int {
	per := 0
	for _, e := range entries {
		if int(e.FirstChunk) > chunk {
			break
		}
		per = int(e.SamplesPerChunk)
	}
	return per
}

// Info returns the discovered tracks.
func (d *MP4Demuxer) Info() TrackInfo {
	return d.info
}

// Run delivers every sample in file-offset order.
func (d *MP4Demuxer) Run(ctx context.Context) error {
	buf := make([]byte, 0, 256*1024)

	trackIndex := make(map[*mp4Track]int)

	for _, s := range d.samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if cap(buf) < s.size {
			buf = make([]byte, s.size)
		}
		buf = buf[:s.size]

		if _, err := d.rs.Seek(s.offset, io.SeekStart); err != nil {
			return fmt.Errorf("seeking to sample: %w", err)
		}
		if _, err := io.ReadFull(d.rs, buf); err != nil {
			return fmt.Errorf("reading sample at %d: %w", s.offset, err)
		}

		i := trackIndex[s.track]
		trackIndex[s.track] = i + 1

		tb := codec.Rational{Num: 1, Den: int64(s.track.timescale)}
		pts := codec.Rescale(s.pts, tb, codec.TB90k)

		if s.track == d.video {
			sample := make([]byte, len(buf))
			copy(sample, buf)
			au, err := codec.AVCCToNALUs(sample, s.track.naluLen)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			if d.cb.OnVideo != nil {
				dts := codec.Rescale(s.dts, tb, codec.TB90k)
				if err := d.cb.OnVideo(pts, dts, au, d.sync[s.track][i]); err != nil {
					return err
				}
			}
		} else if d.cb.OnAudio != nil {
			au := make([]byte, len(buf))
			copy(au, buf)
			if err := d.cb.OnAudio(pts, au); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the demuxer. The underlying reader is owned by the caller.
func (d *MP4Demuxer) Close() error {
	return nil
}
