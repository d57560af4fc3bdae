package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProgressiveConfig configures the progressive temp-file reader.
type ProgressiveConfig struct {
	// MinBuffer and MaxBuffer clamp the initial buffer threshold,
	// which is otherwise 2% of the total size.
	MinBuffer int64
	MaxBuffer int64

	// TailPrefetch is how many trailing bytes to range-fetch up front so
	// the demuxer can read the container index without waiting for the
	// full download.
	TailPrefetch int64

	// IdleTimeout aborts the download when no progress is made.
	IdleTimeout time.Duration

	// HeaderTimeout bounds the wait for response headers.
	HeaderTimeout time.Duration

	// WaitForComplete makes New block until the full download finished.
	WaitForComplete bool

	// TempDir is the session directory for the growing download file.
	TempDir string

	Client *http.Client
	Logger *slog.Logger
}

// ProgressiveReader downloads a remote file into a single growing temp file
// and serves synchronous reads against it. Two watermarks are tracked: the
// sequential download position and a tail window placed at its real offset
// by a range fetch.
//
// Reads never block on the downloader: a read past both watermarks returns
// ErrCaughtUp so the caller can terminate the pass instead of starving the
// producer.
type ProgressiveReader struct {
	cfg  ProgressiveConfig
	url  string
	size int64

	file  *os.File // read-only handle
	wfile *os.File // write handle, shared by downloader and tail fetch

	mu          sync.Mutex
	cond        *sync.Cond
	pos         int64
	written     int64
	tailStart   int64
	tailWritten int64
	complete    bool
	dlErr       error
	lastAdvance time.Time

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

const downloadChunkSize = 256 * 1024

// NewProgressive opens the URL, resolves the total size from the response
// headers, starts the background download and tail prefetch, and waits for
// the initial buffer threshold (or the full download when WaitForComplete).
func NewProgressive(ctx context.Context, rawURL string, cfg ProgressiveConfig) (*ProgressiveReader, error) {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinBuffer <= 0 {
		cfg.MinBuffer = 2 << 20
	}
	if cfg.MaxBuffer < cfg.MinBuffer {
		cfg.MaxBuffer = cfg.MinBuffer
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 20 * time.Second
	}

	dlCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	reqCtx, cancelHeaders := context.WithTimeout(dlCtx, cfg.HeaderTimeout)
	defer cancelHeaders()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := cfg.Client.Do(req) //nolint:bodyclose // closed by the downloader
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: unknown content length", ErrUnavailable)
	}

	path := filepath.Join(cfg.TempDir, "source.bin")
	wfile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	// Pre-size so the tail fetch can write at its real offset.
	if err := wfile.Truncate(resp.ContentLength); err != nil {
		resp.Body.Close()
		wfile.Close()
		cancel()
		return nil, fmt.Errorf("sizing temp file: %w", err)
	}
	rfile, err := os.Open(path)
	if err != nil {
		resp.Body.Close()
		wfile.Close()
		cancel()
		return nil, fmt.Errorf("opening temp file: %w", err)
	}

	r := &ProgressiveReader{
		cfg:         cfg,
		url:         rawURL,
		size:        resp.ContentLength,
		file:        rfile,
		wfile:       wfile,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      cfg.Logger.With(slog.String("component", "progressive-source")),
		lastAdvance: time.Now(),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.download(dlCtx, resp.Body)
	if cfg.IdleTimeout > 0 {
		go r.watchIdle(dlCtx)
	}

	// The container index usually lives at the end of the file; fetch it
	// before handing the reader to the demuxer.
	if cfg.TailPrefetch > 0 && r.size > cfg.TailPrefetch {
		r.fetchTail(dlCtx)
	}

	if err := r.awaitInitialBuffer(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// initialBufferBytes is clamp(2% of size, MinBuffer, MaxBuffer).
func (r *ProgressiveReader) initialBufferBytes() int64 {
	threshold := r.size / 50
	if threshold < r.cfg.MinBuffer {
		threshold = r.cfg.MinBuffer
	}
	if threshold > r.cfg.MaxBuffer {
		threshold = r.cfg.MaxBuffer
	}
	if threshold > r.size {
		threshold = r.size
	}
	return threshold
}

func (r *ProgressiveReader) awaitInitialBuffer() error {
	threshold := r.size
	if !r.cfg.WaitForComplete {
		threshold = r.initialBufferBytes()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.written < threshold && !r.complete && r.dlErr == nil {
		r.cond.Wait()
	}
	return r.dlErr
}

// download drives the temp file forward sequentially.
func (r *ProgressiveReader) download(ctx context.Context, body io.ReadCloser) {
	defer close(r.done)
	defer body.Close()

	buf := make([]byte, downloadChunkSize)
	var off int64
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := r.wfile.WriteAt(buf[:n], off); werr != nil {
				r.fail(fmt.Errorf("writing temp file: %w", werr))
				return
			}
			off += int64(n)
			r.mu.Lock()
			r.written = off
			r.lastAdvance = time.Now()
			if r.written >= r.size {
				r.complete = true
			}
			r.cond.Broadcast()
			r.mu.Unlock()
		}
		if err != nil {
			if err == io.EOF {
				r.mu.Lock()
				r.complete = r.written >= r.size
				if !r.complete && r.dlErr == nil {
					r.dlErr = fmt.Errorf("%w: truncated at %d of %d bytes", ErrUnavailable, r.written, r.size)
				}
				r.cond.Broadcast()
				r.mu.Unlock()
				return
			}
			if ctx.Err() == nil {
				r.fail(fmt.Errorf("%w: %v", ErrUnavailable, err))
			}
			return
		}
	}
}

// fetchTail range-fetches the last TailPrefetch bytes at their real offset.
// Best effort: servers without range support just leave the window empty.
func (r *ProgressiveReader) fetchTail(ctx context.Context) {
	start := r.size - r.cfg.TailPrefetch

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.HeaderTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		r.logger.Warn("tail prefetch failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		r.logger.Warn("tail prefetch unsupported", slog.Int("status", resp.StatusCode))
		return
	}

	buf := make([]byte, downloadChunkSize)
	off := start
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := r.wfile.WriteAt(buf[:n], off); werr != nil {
				return
			}
			off += int64(n)
			r.mu.Lock()
			r.tailStart = start
			r.tailWritten = off - start
			r.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Warn("tail prefetch interrupted", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// watchIdle aborts the download when no progress happens for IdleTimeout.
func (r *ProgressiveReader) watchIdle(ctx context.Context) {
	interval := r.cfg.IdleTimeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			idle := time.Since(r.lastAdvance)
			stalled := !r.complete && r.dlErr == nil && idle >= r.cfg.IdleTimeout
			if stalled {
				r.dlErr = fmt.Errorf("%w: download stalled for %ds", ErrStalled, int(idle.Seconds()))
				r.cond.Broadcast()
			}
			r.mu.Unlock()
			if stalled {
				r.cancel()
				return
			}
		}
	}
}

func (r *ProgressiveReader) fail(err error) {
	r.mu.Lock()
	if r.dlErr == nil {
		r.dlErr = err
	}
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Read serves bytes from the temp file. It returns a short read at the
// download watermark and ErrCaughtUp when nothing at the current position
// is available yet. It never blocks on the downloader.
func (r *ProgressiveReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.pos >= r.size {
		r.mu.Unlock()
		return 0, io.EOF
	}
	if r.dlErr != nil && !r.complete && r.pos >= r.written {
		err := r.dlErr
		r.mu.Unlock()
		return 0, err
	}

	want := int64(len(p))
	if r.pos+want > r.size {
		want = r.size - r.pos
	}

	avail := int64(0)
	switch {
	case r.complete:
		avail = want
	case r.pos < r.written:
		avail = r.written - r.pos
		if avail > want {
			avail = want
		}
	case r.pos >= r.tailStart && r.tailWritten > 0 && r.pos < r.tailStart+r.tailWritten:
		avail = r.tailStart + r.tailWritten - r.pos
		if avail > want {
			avail = want
		}
	default:
		r.mu.Unlock()
		return 0, ErrCaughtUp
	}
	pos := r.pos
	r.mu.Unlock()

	n, err := r.file.ReadAt(p[:avail], pos)
	if err != nil && err != io.EOF {
		return n, err
	}

	r.mu.Lock()
	r.pos = pos + int64(n)
	r.mu.Unlock()
	return n, nil
}

// Seek moves the read position, clamped to [0, size]. SizeQuery returns the
// total size without moving.
func (r *ProgressiveReader) Seek(offset int64, whence Whence) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if whence == SizeQuery {
		return r.size, nil
	}
	r.pos = clampOffset(r.pos, r.size, offset, whence)
	return r.pos, nil
}

// AbsoluteSize returns the total size resolved from the response headers.
func (r *ProgressiveReader) AbsoluteSize() int64 {
	return r.size
}

// Written returns the sequential download watermark.
func (r *ProgressiveReader) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Complete reports whether the download finished.
func (r *ProgressiveReader) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete
}

// Err returns the terminal download error, if any.
func (r *ProgressiveReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dlErr
}

// Close cancels the download and closes both file handles. The temp file
// itself is removed with the session directory.
func (r *ProgressiveReader) Close() error {
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
	}
	r.file.Close()
	return r.wfile.Close()
}
