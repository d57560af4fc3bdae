// Package session owns the lifecycle of transcoding sessions: creation,
// deduplication, the single-active policy, and teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/caststream/caststream/internal/config"
	"github.com/caststream/caststream/internal/demux"
	"github.com/caststream/caststream/internal/ffmpeg"
	"github.com/caststream/caststream/internal/httpclient"
	"github.com/caststream/caststream/internal/models"
	"github.com/caststream/caststream/internal/observability"
	"github.com/caststream/caststream/internal/playlist"
	"github.com/caststream/caststream/internal/repository"
	"github.com/caststream/caststream/internal/source"
	"github.com/caststream/caststream/internal/startup"
	"github.com/caststream/caststream/internal/store"
	"github.com/caststream/caststream/internal/transcoder"
)

// StartResult is returned to the caller that initiated a session.
type StartResult struct {
	SessionID        string `json:"sessionId"`
	PlaylistURLLan   string `json:"playlistUrlLan"`
	PlaylistURLLocal string `json:"playlistUrlLocal"`
}

// Summary describes an active session for listings.
type Summary struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Mode      string            `json:"mode"`
	Progress  float64           `json:"progress"`
	Status    transcoder.Status `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

type session struct {
	id      string
	desc    source.Descriptor
	key     string
	mode    string
	dir     string
	created time.Time

	src      source.Reader
	store    *store.Store
	pipeline *transcoder.Pipeline
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	record   *models.SessionRecord
}

// Manager creates sessions and serves the segment catalog to the HTTP
// server. One pipeline goroutine runs per session; the manager itself only
// coordinates.
type Manager struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     repository.SessionRepository // nil disables the journal
	opener   source.BlockLogOpener        // nil disables local-block sources
	detector *ffmpeg.BinaryDetector

	// port is the bound HLS server port, set once the listener is up.
	port atomic.Int32

	sf singleflight.Group

	// startMu serializes session construction so the single-active policy
	// cannot race across different sources.
	startMu sync.Mutex

	mu    sync.Mutex
	byKey map[string]*session
	byID  map[string]*session
}

// NewManager builds a session manager. repo and opener may be nil.
func NewManager(cfg *config.Config, repo repository.SessionRepository, opener source.BlockLogOpener, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "session"),
		repo:     repo,
		opener:   opener,
		detector: ffmpeg.NewBinaryDetector(),
		byKey:    make(map[string]*session),
		byID:     make(map[string]*session),
	}
}

// SetPort records the bound HTTP port used when building playlist URLs.
func (m *Manager) SetPort(port int) {
	m.port.Store(int32(port))
}

// Start creates a session for the descriptor, or returns the existing one
// when an active session for the same source is already running. Concurrent
// Start calls for the same source collapse into a single session.
func (m *Manager) Start(ctx context.Context, desc source.Descriptor) (StartResult, error) {
	if err := desc.Validate(); err != nil {
		return StartResult{}, err
	}

	key := desc.Key()
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.startOne(ctx, desc, key)
	})
	if err != nil {
		return StartResult{}, err
	}
	return v.(StartResult), nil
}

func (m *Manager) startOne(ctx context.Context, desc source.Descriptor, key string) (StartResult, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	if existing, ok := m.byKey[key]; ok {
		if existing.pipeline.Status().State != transcoder.StateError {
			m.mu.Unlock()
			return m.result(existing.id), nil
		}
		// Failed session for the same source: replace it.
		m.removeLocked(existing)
		m.mu.Unlock()
		m.teardown(existing)
		m.mu.Lock()
	}

	var evicted []*session
	if m.cfg.Sessions.SingleActive {
		for _, s := range m.byID {
			m.removeLocked(s)
			evicted = append(evicted, s)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		m.logger.Info("stopping session for new source",
			slog.String("session_id", s.id), slog.String("source", s.desc.Redacted()))
		m.teardown(s)
	}

	sess, err := m.build(ctx, desc, key)
	if err != nil {
		return StartResult{}, err
	}

	m.mu.Lock()
	m.byKey[key] = sess
	m.byID[sess.id] = sess
	m.mu.Unlock()

	go m.run(sess)

	return m.result(sess.id), nil
}

func (m *Manager) build(ctx context.Context, desc source.Descriptor, key string) (*session, error) {
	id := ulid.Make().String()
	logger := observability.WithSession(m.logger, id)

	baseDir := m.cfg.Storage.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir := filepath.Join(baseDir, startup.TempDirPrefix+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	// The session outlives the Start request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	src, err := m.openSource(runCtx, desc, dir, logger)
	if err != nil {
		cancel()
		os.RemoveAll(dir)
		return nil, err
	}

	classification := transcoder.Prescan(desc)
	engine, classification := m.buildEngine(ctx, classification, logger)

	st := store.New(store.Config{
		SessionDir:        dir,
		MaxMemorySegments: m.cfg.Store.MaxMemorySegments,
		SegmentTTL:        m.cfg.Store.SegmentTTL,
		Logger:            logger,
	})

	opts := transcoder.Options{
		TargetSegmentDuration: m.cfg.Transcode.TargetSegmentDuration,
		MaxSegmentDuration:    m.cfg.Transcode.MaxSegmentDuration,
		YieldEveryNPackets:    m.cfg.Transcode.YieldEveryNPackets,
		SpliceParameterSets:   m.cfg.Transcode.SpliceParameterSets,
		Classification:        classification,
		Engine:                engine,
	}
	if dp, ok := src.(demux.DownloadProgress); ok {
		opts.Progress = dp
	}

	sess := &session{
		id:       id,
		desc:     desc,
		key:      key,
		mode:     classification.Mode(),
		dir:      dir,
		created:  time.Now(),
		src:      src,
		store:    st,
		pipeline: transcoder.NewPipeline(demux.NewBridge(runCtx, src), st, opts, logger),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if m.repo != nil {
		rec := &models.SessionRecord{
			SourceKind:     string(desc.Kind),
			SourceRedacted: desc.Redacted(),
			Title:          desc.Title,
			Mode:           classification.Mode(),
			Classification: classification.Reason,
			Status:         transcoder.StateStarting.String(),
		}
		if err := m.repo.Create(ctx, rec); err != nil {
			logger.Warn("recording session start", slog.Any("error", err))
		} else {
			sess.record = rec
		}
	}

	logger.Info("session started",
		slog.String("source", desc.Redacted()),
		slog.String("mode", classification.Mode()),
		slog.String("reason", classification.Reason))

	return sess, nil
}

func (m *Manager) openSource(ctx context.Context, desc source.Descriptor, dir string, logger *slog.Logger) (source.Reader, error) {
	switch desc.Kind {
	case source.KindProgressiveHTTP:
		return source.NewProgressive(ctx, desc.URL, source.ProgressiveConfig{
			MinBuffer:       int64(m.cfg.Source.MinBuffer),
			MaxBuffer:       int64(m.cfg.Source.MaxBuffer),
			TailPrefetch:    int64(m.cfg.Source.TailPrefetch),
			IdleTimeout:     m.cfg.Source.IdleTimeout,
			HeaderTimeout:   m.cfg.Source.HeaderTimeout,
			WaitForComplete: desc.WaitForComplete,
			TempDir:         dir,
			Client:          httpclient.New(httpclient.DefaultConfig()),
			Logger:          logger,
		})
	case source.KindRangeHTTP:
		return source.NewRangeCache(ctx, desc.URL, source.RangeCacheConfig{
			MaxCacheBytes: int64(m.cfg.Source.MaxBuffer),
			StartPrefetch: int64(m.cfg.Source.StartPrefetch),
			TailPrefetch:  int64(m.cfg.Source.TailPrefetch),
			PrefetchAhead: int64(m.cfg.Source.PrefetchAhead),
			HeaderTimeout: m.cfg.Source.HeaderTimeout,
			Client:        httpclient.New(httpclient.RangeConfig()),
			Logger:        logger,
		})
	case source.KindLocalBlock:
		if m.opener == nil {
			return nil, fmt.Errorf("%w: no block log opener configured", source.ErrUnavailable)
		}
		return source.NewBlockStore(m.opener, desc, logger)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", source.ErrUnavailable, desc.Kind)
	}
}

// buildEngine detects FFmpeg and constructs the codec engine. A missing
// binary degrades transcode classifications to remux rather than failing
// the session; remux-able sources then still play.
func (m *Manager) buildEngine(ctx context.Context, c transcoder.Classification, logger *slog.Logger) (*transcoder.Engine, transcoder.Classification) {
	info, err := m.detector.Detect(ctx)
	if err != nil {
		logger.Warn("ffmpeg unavailable, transcode modes disabled", slog.Any("error", err))
		c.NeedsVideoTranscode = false
		c.NeedsAudioTranscode = false
		c.Reason += "; ffmpeg unavailable, degraded to remux"
		return nil, c
	}

	c = transcoder.ApplyEncoderAvailability(c, info, m.cfg.Transcode.PreferSoftwareEncoder)

	binary := m.cfg.FFmpeg.BinaryPath
	if binary == "" {
		binary = info.Path
	}

	engine, err := transcoder.NewEngine(binary, info, c, m.cfg.Transcode.PreferSoftwareEncoder, transcoder.JobOptions{
		VideoBitrate:    m.cfg.Transcode.VideoBitrate,
		AudioBitrate:    m.cfg.Transcode.AudioBitrate,
		GOPSize:         m.cfg.Transcode.GOPSize,
		AudioSampleRate: m.cfg.Transcode.AudioSampleRate,
		AudioChannels:   m.cfg.Transcode.AudioChannels,
	}, logger)
	if err != nil {
		logger.Warn("building ffmpeg engine", slog.Any("error", err))
		return nil, c
	}
	return engine, c
}

// run drives the pipeline to completion and finalizes the journal record.
func (m *Manager) run(sess *session) {
	defer close(sess.done)

	logger := observability.WithSession(m.logger, sess.id)
	err := sess.pipeline.Run(sess.ctx)

	status := sess.pipeline.Status()
	if err != nil {
		logger.Error("session failed",
			slog.String("diagnostic", status.Diagnostic), slog.Any("error", err))
	} else {
		logger.Info("session complete",
			slog.Int("segments", status.SegmentCount),
			slog.Float64("duration", status.Duration))
	}

	if sess.record != nil && m.repo != nil {
		now := time.Now()
		sess.record.Status = status.StateName
		sess.record.Diagnostic = status.Diagnostic
		sess.record.SourceBytes = status.BytesIn
		sess.record.OutputBytes = status.BytesOut
		sess.record.SegmentCount = status.SegmentCount
		sess.record.OutputDuration = status.Duration
		sess.record.FinishedAt = &now
		if uerr := m.repo.Update(context.Background(), sess.record); uerr != nil {
			logger.Warn("recording session result", slog.Any("error", uerr))
		}
	}
}

// Stop tears down the session and removes its temp directory.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.byID[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown session %q", sessionID)
	}
	m.removeLocked(sess)
	m.mu.Unlock()

	m.teardown(sess)
	return nil
}

func (m *Manager) removeLocked(sess *session) {
	delete(m.byID, sess.id)
	if m.byKey[sess.key] == sess {
		delete(m.byKey, sess.key)
	}
}

// teardown runs the reverse of construction: cancel the pipeline, wait for
// its goroutine, close the source, destroy the store.
func (m *Manager) teardown(sess *session) {
	sess.cancel()
	select {
	case <-sess.done:
	case <-time.After(30 * time.Second):
		m.logger.Warn("pipeline did not stop in time", slog.String("session_id", sess.id))
	}
	if err := sess.src.Close(); err != nil {
		m.logger.Warn("closing source", slog.String("session_id", sess.id), slog.Any("error", err))
	}
	if err := sess.store.Destroy(); err != nil {
		m.logger.Warn("destroying segment store", slog.String("session_id", sess.id), slog.Any("error", err))
	}
	m.logger.Info("session stopped", slog.String("session_id", sess.id))
}

// List returns summaries of all active sessions.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Summary{
			ID:        s.id,
			Source:    s.desc.Redacted(),
			Mode:      s.mode,
			Progress:  s.progress(),
			Status:    s.pipeline.Status(),
			CreatedAt: s.created,
		})
	}
	return out
}

// progress estimates percent of source consumed, 0 when the size is unknown.
func (s *session) progress() float64 {
	size := s.src.AbsoluteSize()
	if size <= 0 {
		return 0
	}
	st := s.pipeline.Status()
	if st.State == transcoder.StateComplete {
		return 100
	}
	pct := float64(st.BytesIn) / float64(size) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Sweep expires segments past their TTL across all sessions. Returns the
// number of segments dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	stores := make([]*store.Store, 0, len(m.byID))
	for _, s := range m.byID {
		stores = append(stores, s.store)
	}
	m.mu.Unlock()

	total := 0
	for _, st := range stores {
		total += st.Sweep()
	}
	return total
}

// Shutdown stops every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.byID))
	for _, s := range m.byID {
		m.removeLocked(s)
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(s)
	}
}

// Playlist implements the server catalog.
func (m *Manager) Playlist(sessionID, host string) (string, bool) {
	m.mu.Lock()
	sess, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}

	segs := sess.store.Segments()
	if max := m.cfg.Store.MaxPlaylistSegments; max > 0 && len(segs) > max {
		segs = segs[len(segs)-max:]
	}

	body, err := playlist.Render(playlist.Params{
		SessionID:          sessionID,
		Segments:           segs,
		MaxSegmentDuration: m.cfg.Transcode.MaxSegmentDuration,
		Complete:           sess.pipeline.Status().State == transcoder.StateComplete,
		Host:               host,
	})
	if err != nil {
		m.logger.Error("rendering playlist", slog.String("session_id", sessionID), slog.Any("error", err))
		return "", false
	}
	return body, true
}

// Segment implements the server catalog.
func (m *Manager) Segment(sessionID string, index int) ([]byte, bool) {
	m.mu.Lock()
	sess, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.store.Get(index), true
}

// Status implements the server catalog.
func (m *Manager) Status(sessionID string) (transcoder.Status, bool) {
	m.mu.Lock()
	sess, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return transcoder.Status{}, false
	}
	return sess.pipeline.Status(), true
}

func (m *Manager) result(sessionID string) StartResult {
	port := int(m.port.Load())
	path := fmt.Sprintf("/hls/%s/stream.m3u8", sessionID)
	res := StartResult{
		SessionID:        sessionID,
		PlaylistURLLocal: fmt.Sprintf("http://127.0.0.1:%d%s", port, path),
	}
	if lan := lanIPv4(); lan != "" {
		res.PlaylistURLLan = fmt.Sprintf("http://%s:%d%s", lan, port, path)
	} else {
		res.PlaylistURLLan = res.PlaylistURLLocal
	}
	return res
}
