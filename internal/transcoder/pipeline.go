// Package transcoder turns a demuxed source into keyframe-aligned MPEG-TS
// segments through one continuous muxer. Segments are cut by flushing the
// muxer at keyframe boundaries and harvesting the bytes written since the
// previous cut, never by re-creating the muxer, so continuity counters and
// timestamps stay intact across segment boundaries.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/caststream/caststream/internal/codec"
	"github.com/caststream/caststream/internal/demux"
	"github.com/caststream/caststream/internal/source"
)

// SegmentSink receives committed segments. Implementations take ownership
// of data and must publish it atomically to their readers.
type SegmentSink interface {
	Add(index int, duration float64, data []byte) error
}

// Options configures a pipeline.
type Options struct {
	// TargetSegmentDuration is the soft cut point in seconds; a keyframe
	// at or past it closes the segment.
	TargetSegmentDuration float64

	// MaxSegmentDuration forces a cut regardless of keyframes.
	MaxSegmentDuration float64

	// YieldEveryNPackets inserts a scheduling point every N packets. The
	// runtime preempts on its own; this is kept as a pacing point.
	YieldEveryNPackets int

	// MaxPacketErrors is the budget of logged-and-skipped write failures
	// before the pipeline fails with a codec error.
	MaxPacketErrors int

	// SpliceParameterSets forces prepending cached SPS/PPS to keyframes
	// that lack them. Splicing is automatic when the parameter sets come
	// from container metadata instead of the payload stream.
	SpliceParameterSets bool

	Classification Classification

	// Engine is required for transcode-mode sessions and containers the
	// native demuxers do not handle.
	Engine *Engine

	// Progress, when present, drives the downloading state.
	Progress demux.DownloadProgress
}

func (o *Options) defaults() {
	if o.TargetSegmentDuration <= 0 {
		o.TargetSegmentDuration = 2.0
	}
	if o.MaxSegmentDuration <= 0 {
		o.MaxSegmentDuration = 4.0
	}
	if o.YieldEveryNPackets <= 0 {
		o.YieldEveryNPackets = 50
	}
	if o.MaxPacketErrors <= 0 {
		o.MaxPacketErrors = 20
	}
}

// Pipeline is the single producer for a session's segment catalog.
type Pipeline struct {
	opts   Options
	bridge *demux.Bridge
	sink   SegmentSink
	logger *slog.Logger

	harvest harvestBuffer
	patcher patCache
	params  codec.H264Params
	fifo    *codec.AudioFIFO

	mux        *mpegts.Writer
	videoTrack *mpegts.Track
	audioTrack *mpegts.Track

	// spliceParams marks parameter sets that arrived out-of-band and so
	// never recur in the payload stream; keyframes then need them spliced
	// back in.
	spliceParams bool

	// busy observes codec-call contention for diagnostics. It gates
	// nothing.
	busy atomic.Int32

	mu           sync.Mutex
	state        State
	terminalErr  error
	segIndex     int
	segStart     int64 // 90 kHz
	segOpen      bool
	endPTS       int64
	committedDur float64
	packetErrors int
	packetCount  int64
}

// NewPipeline wires a demux bridge to a segment sink.
func NewPipeline(bridge *demux.Bridge, sink SegmentSink, opts Options, logger *slog.Logger) *Pipeline {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:   opts,
		bridge: bridge,
		sink:   sink,
		logger: logger.With(slog.String("component", "transcoder")),
		state:  StateStarting,
	}
}

// Status returns a snapshot for status polling.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		State:        p.state,
		StateName:    p.state.String(),
		SegmentCount: p.segIndex,
		BytesIn:      p.bridge.Consumed(),
		BytesOut:     p.harvest.Total(),
		Duration:     p.committedDur,
		Diagnostic:   Diagnostic(p.terminalErr),
	}
}

// Busy reports whether a codec call is in flight.
func (p *Pipeline) Busy() bool {
	return p.busy.Load() > 0
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	if !p.state.Terminal() {
		p.state = s
	}
	p.mu.Unlock()
}

func (p *Pipeline) fail(err error) error {
	p.mu.Lock()
	if !p.state.Terminal() {
		p.state = StateError
		p.terminalErr = err
	}
	p.mu.Unlock()
	return err
}

// Run drives the session to Complete or Error. It is the only goroutine
// that touches the muxer and the sink.
func (p *Pipeline) Run(ctx context.Context) error {
	p.setState(StateInitializing)

	cb := demux.Callbacks{OnVideo: p.onVideo, OnAudio: p.onAudio}
	dmx, cleanup, err := p.openDemuxer(ctx, cb)
	if err != nil {
		return p.fail(err)
	}
	defer cleanup()

	if err := p.initMuxer(dmx.Info()); err != nil {
		return p.fail(err)
	}

	if p.opts.Progress != nil && !p.opts.Progress.Complete() {
		p.setState(StateDownloading)
	} else {
		p.setState(StateTranscoding)
	}

	if err := dmx.Run(ctx); err != nil {
		if errors.Is(err, source.ErrCaughtUp) {
			p.logger.Error("transcoder caught up to download and it is not progressing")
		}
		return p.fail(err)
	}

	if err := p.finalize(); err != nil {
		return p.fail(err)
	}
	p.setState(StateComplete)
	p.logger.Info("transcode complete",
		slog.Int("segments", p.segIndex),
		slog.Float64("duration_s", p.committedDur),
		slog.Int64("bytes_out", p.harvest.Total()))
	return nil
}

// openDemuxer routes the source to the native demuxers or the FFmpeg
// engine. Transcode-mode sessions and containers the native path cannot
// parse always run the engine.
func (p *Pipeline) openDemuxer(ctx context.Context, cb demux.Callbacks) (demux.Demuxer, func(), error) {
	format, err := demux.Probe(p.bridge)
	if err != nil {
		return nil, nil, err
	}
	p.logger.Debug("container probed", slog.String("format", string(format)))

	if p.opts.Classification.Transcode() {
		return p.openEngine(ctx, format, cb)
	}

	switch format {
	case demux.FormatMPEGTS:
		dmx, err := demux.NewTSDemuxer(p.bridge, cb, p.logger)
		if err == nil {
			info := dmx.Info()
			if p.nativeUsable(info) {
				return dmx, func() { dmx.Close() }, nil
			}
			dmx.Close()
			// The pre-scan missed; rebuild the engine job around the
			// discovered codecs before falling through to it.
			if p.opts.Engine != nil {
				if _, err := p.retuneCopyJob(info); err != nil {
					return nil, nil, err
				}
			}
		} else if !errors.Is(err, demux.ErrNoSupportedTracks) {
			return nil, nil, err
		}
		return p.openEngine(ctx, format, cb)

	case demux.FormatMP4:
		if _, err := p.bridge.Seek(0, 0); err != nil {
			return nil, nil, err
		}
		dmx, err := demux.NewMP4Demuxer(p.bridge, cb, p.logger)
		if err == nil {
			return dmx, func() { dmx.Close() }, nil
		}
		p.logger.Warn("native mp4 demux unavailable, using ffmpeg", slog.Any("error", err))
		return p.openEngine(ctx, format, cb)

	default:
		return p.openEngine(ctx, format, cb)
	}
}

// nativeUsable reports whether the native demuxer's tracks can feed the
// muxer directly. Without an engine a non-AAC audio track plays without
// audio instead of failing the session.
func (p *Pipeline) nativeUsable(info demux.TrackInfo) bool {
	if info.VideoCodec != "h264" {
		return false
	}
	if info.AudioCodec != "" && info.AudioCodec != "aac" {
		if p.opts.Engine == nil {
			p.logger.Warn("unsupported audio codec and no engine, continuing without audio",
				slog.String("audio_codec", info.AudioCodec))
			return true
		}
		return false
	}
	return true
}

// retuneCopyJob switches copied streams to encoding when the discovered
// codecs cannot pass through to the MPEG-TS muxer. Returns true when the
// engine job changed and FFmpeg must be restarted.
func (p *Pipeline) retuneCopyJob(info demux.TrackInfo) (bool, error) {
	e := p.opts.Engine
	changed := false
	if e.Job.CopyVideo && info.VideoCodec != "" && info.VideoCodec != "h264" {
		if err := e.ForceVideoTranscode(); err != nil {
			return false, err
		}
		p.logger.Warn("video codec cannot be copied, switching to transcode",
			slog.String("video_codec", info.VideoCodec))
		changed = true
	}
	if e.Job.CopyAudio && info.AudioCodec != "" && info.AudioCodec != "aac" {
		e.ForceAudioTranscode()
		p.logger.Warn("audio codec cannot be copied, switching to transcode",
			slog.String("audio_codec", info.AudioCodec))
		changed = true
	}
	return changed, nil
}

func (p *Pipeline) openEngine(ctx context.Context, format demux.Format, cb demux.Callbacks) (demux.Demuxer, func(), error) {
	if p.opts.Engine == nil {
		return nil, nil, fmt.Errorf("%w: no ffmpeg engine configured", ErrCodecFailure)
	}
	if p.opts.Engine.Job.CopyVideo {
		// Length-prefixed containers need the annex-b filter on copied
		// video.
		p.opts.Engine.Job.AnnexBFilter = format == demux.FormatMP4 || format == demux.FormatMatroska
	}

	for attempt := 0; ; attempt++ {
		if _, err := p.bridge.Seek(0, 0); err != nil {
			return nil, nil, err
		}
		proc, err := p.opts.Engine.Start(ctx, p.bridge)
		if err != nil {
			return nil, nil, err
		}
		dmx, err := demux.NewTSDemuxer(proc.Stdout(), cb, p.logger)
		if err != nil {
			proc.Stop()
			return nil, nil, fmt.Errorf("%w: reading ffmpeg output: %v (stderr: %v)",
				ErrCodecFailure, err, proc.StderrTail())
		}
		if attempt == 0 {
			changed, rerr := p.retuneCopyJob(dmx.Info())
			if rerr != nil {
				dmx.Close()
				proc.Stop()
				return nil, nil, rerr
			}
			if changed {
				dmx.Close()
				proc.Stop()
				continue
			}
		}
		cleanup := func() {
			dmx.Close()
			proc.Stop()
		}
		return dmx, cleanup, nil
	}
}

// initMuxer creates the continuous muxer over the harvesting sink.
func (p *Pipeline) initMuxer(info demux.TrackInfo) error {
	p.videoTrack = &mpegts.Track{PID: 0x100, Codec: &mpegts.CodecH264{}}
	tracks := []*mpegts.Track{p.videoTrack}

	if info.AudioCodec == "aac" {
		cfg := info.AudioConfig
		if cfg == nil {
			cfg = &mpeg4audio.Config{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
			}
		}
		p.audioTrack = &mpegts.Track{PID: 0x101, Codec: &mpegts.CodecMPEG4Audio{Config: *cfg}}
		tracks = append(tracks, p.audioTrack)
		p.fifo = codec.NewAudioFIFO(cfg.SampleRate)
	}

	if len(info.SPS) > 0 && len(info.PPS) > 0 {
		p.params.Set(info.SPS, info.PPS)
		p.spliceParams = true
	}

	p.mux = &mpegts.Writer{W: &p.harvest, Tracks: tracks}
	if err := p.mux.Initialize(); err != nil {
		return fmt.Errorf("%w: initializing muxer: %v", ErrCodecFailure, err)
	}
	return nil
}

func (p *Pipeline) onVideo(pts, dts int64, au [][]byte, keyframe bool) error {
	p.params.Extract(au)
	if keyframe && (p.spliceParams || p.opts.SpliceParameterSets) {
		au = p.params.WithParams(au)
	}

	p.mu.Lock()
	if !p.segOpen {
		p.segStart = pts
		p.segOpen = true
	}
	segDur := float64(pts-p.segStart) / 90000
	cut := false
	forced := false
	if keyframe && segDur >= p.opts.TargetSegmentDuration {
		cut = true
	} else if segDur >= p.opts.MaxSegmentDuration {
		cut = true
		forced = true
	}
	p.mu.Unlock()

	if cut {
		if forced {
			p.logger.Warn("no keyframe within max segment duration, forcing cut",
				slog.Float64("duration_s", segDur))
		}
		if err := p.commitSegment(segDur, pts); err != nil {
			return err
		}
	}

	p.busy.Add(1)
	err := p.mux.WriteH264(p.videoTrack, pts, dts, au)
	p.busy.Add(-1)
	if err != nil {
		if berr := p.packetError(fmt.Errorf("writing video au: %w", err)); berr != nil {
			return berr
		}
	}

	p.notePTS(pts)
	return p.yield()
}

func (p *Pipeline) onAudio(pts int64, au []byte) error {
	if p.audioTrack == nil || p.fifo == nil {
		return nil
	}

	// The FIFO anchors output timing at the first input PTS and derives
	// every later PTS from the running sample count.
	p.fifo.SetBase(pts)
	p.fifo.Write(au)

	for i := 0; i < codec.MaxFramesPerPush; i++ {
		frame, fpts, ok := p.fifo.Read()
		if !ok {
			break
		}
		p.busy.Add(1)
		err := p.mux.WriteMPEG4Audio(p.audioTrack, fpts, [][]byte{frame})
		p.busy.Add(-1)
		if err != nil {
			if berr := p.packetError(fmt.Errorf("writing audio au: %w", err)); berr != nil {
				return berr
			}
			continue
		}
		p.notePTS(fpts)
	}
	return p.yield()
}

// commitSegment harvests the bytes since the last cut, patches them, and
// publishes the segment. nextStart opens the following segment.
func (p *Pipeline) commitSegment(duration float64, nextStart int64) error {
	data := p.harvest.Take()

	p.mu.Lock()
	p.segStart = nextStart
	p.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	p.patcher.Capture(data)
	patched, err := p.patcher.EnsureLeadingPAT(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	index := p.segIndex
	p.mu.Unlock()

	if err := p.sink.Add(index, duration, patched); err != nil {
		return fmt.Errorf("%w: segment %d: %v", ErrSegmentWrite, index, err)
	}

	p.mu.Lock()
	p.segIndex++
	p.committedDur += duration
	if p.state == StateDownloading {
		p.state = StateTranscoding
	}
	p.mu.Unlock()

	p.logger.Debug("segment committed",
		slog.Int("index", index),
		slog.Float64("duration_s", duration),
		slog.Int("bytes", len(patched)))
	return nil
}

// finalize commits the trailing segment with its measured duration.
func (p *Pipeline) finalize() error {
	p.mu.Lock()
	dur := float64(p.endPTS-p.segStart) / 90000
	end := p.endPTS
	p.mu.Unlock()
	if dur < 0 {
		dur = 0
	}
	return p.commitSegment(dur, end)
}

func (p *Pipeline) notePTS(pts int64) {
	p.mu.Lock()
	if pts > p.endPTS {
		p.endPTS = pts
	}
	p.mu.Unlock()
}

// packetError spends one unit of the error budget. Returns a terminal
// error once the budget is exhausted.
func (p *Pipeline) packetError(err error) error {
	p.mu.Lock()
	p.packetErrors++
	n := p.packetErrors
	p.mu.Unlock()

	p.logger.Warn("packet error", slog.Int("count", n), slog.Any("error", err))
	if n > p.opts.MaxPacketErrors {
		return fmt.Errorf("%w: packet error budget exhausted: %v", ErrCodecFailure, err)
	}
	return nil
}

func (p *Pipeline) yield() error {
	p.mu.Lock()
	p.packetCount++
	n := p.packetCount
	p.mu.Unlock()
	if n%int64(p.opts.YieldEveryNPackets) == 0 {
		runtime.Gosched()
	}
	return nil
}
