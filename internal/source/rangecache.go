package source

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RangeCacheConfig configures the sparse range-fetching reader.
type RangeCacheConfig struct {
	// ChunkSize is the fetch granularity. Cache entries are immutable
	// chunk-aligned byte ranges.
	ChunkSize int64

	// MaxCacheBytes caps the cache; least-recently-used chunks are
	// evicted beyond it.
	MaxCacheBytes int64

	// StartPrefetch and TailPrefetch are fetched at high priority on
	// open. PrefetchAhead is the normal-priority lookahead issued when
	// sequential reads are detected.
	StartPrefetch int64
	TailPrefetch  int64
	PrefetchAhead int64

	HeaderTimeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

type cacheChunk struct {
	index int64
	data  []byte
}

// RangeCacheReader serves reads from a sparse LRU cache of fetched byte
// ranges, backed by HTTP range requests dispatched from a two-priority
// queue. Compat variant; kept for deployments that cannot spool the whole
// file to disk.
type RangeCacheReader struct {
	cfg  RangeCacheConfig
	url  string
	size int64

	mu        sync.Mutex
	cond      *sync.Cond
	pos       int64
	chunks    map[int64]*list.Element
	order     *list.List // front = most recently used
	usedBytes int64
	inflight  map[int64]chan struct{}
	highQ     []int64
	normalQ   []int64
	closed    bool

	lastReadEnd int64
	stop        chan struct{}
	stopOnce    sync.Once

	// Stats exposed for diagnostics.
	hits   int64
	misses int64

	logger *slog.Logger
}

// NewRangeCache resolves the total size with a one-byte range probe, starts
// the prefetch worker, and enqueues head and tail windows at high priority.
func NewRangeCache(ctx context.Context, rawURL string, cfg RangeCacheConfig) (*RangeCacheReader, error) {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	if cfg.MaxCacheBytes <= 0 {
		cfg.MaxCacheBytes = 64 << 20
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 20 * time.Second
	}

	size, err := probeSize(ctx, cfg.Client, rawURL, cfg.HeaderTimeout)
	if err != nil {
		return nil, err
	}

	r := &RangeCacheReader{
		cfg:      cfg,
		url:      rawURL,
		size:     size,
		chunks:   make(map[int64]*list.Element),
		order:    list.New(),
		inflight: make(map[int64]chan struct{}),
		stop:     make(chan struct{}),
		logger:   cfg.Logger.With(slog.String("component", "rangecache-source")),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.prefetchWorker()

	r.mu.Lock()
	if cfg.StartPrefetch > 0 {
		r.enqueueRangeLocked(0, cfg.StartPrefetch, true)
	}
	if cfg.TailPrefetch > 0 && size > cfg.TailPrefetch {
		r.enqueueRangeLocked(size-cfg.TailPrefetch, size, true)
	}
	r.mu.Unlock()
	r.cond.Broadcast()

	return r, nil
}

// probeSize issues a one-byte range request and parses Content-Range.
func probeSize(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2))

	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		i := strings.LastIndexByte(cr, '/')
		if i < 0 {
			return 0, fmt.Errorf("%w: malformed Content-Range %q", ErrUnavailable, cr)
		}
		size, err := strconv.ParseInt(cr[i+1:], 10, 64)
		if err != nil || size <= 0 {
			return 0, fmt.Errorf("%w: malformed Content-Range %q", ErrUnavailable, cr)
		}
		return size, nil
	case http.StatusOK:
		if resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
		return 0, fmt.Errorf("%w: server ignores range requests and hides length", ErrUnavailable)
	default:
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

func (r *RangeCacheReader) chunkCount() int64 {
	return (r.size + r.cfg.ChunkSize - 1) / r.cfg.ChunkSize
}

// enqueueRangeLocked queues every chunk overlapping [start, end) that is
// neither cached nor inflight nor already queued.
func (r *RangeCacheReader) enqueueRangeLocked(start, end int64, high bool) {
	if end > r.size {
		end = r.size
	}
	first := start / r.cfg.ChunkSize
	last := (end - 1) / r.cfg.ChunkSize
	for idx := first; idx <= last; idx++ {
		if _, ok := r.chunks[idx]; ok {
			continue
		}
		if _, ok := r.inflight[idx]; ok {
			continue
		}
		if high {
			if !containsIndex(r.highQ, idx) {
				r.highQ = append(r.highQ, idx)
			}
		} else if !containsIndex(r.normalQ, idx) && !containsIndex(r.highQ, idx) {
			r.normalQ = append(r.normalQ, idx)
		}
	}
}

func containsIndex(q []int64, idx int64) bool {
	for _, v := range q {
		if v == idx {
			return true
		}
	}
	return false
}

// prefetchWorker drains the priority queue, High before Normal.
func (r *RangeCacheReader) prefetchWorker() {
	for {
		r.mu.Lock()
		for !r.closed && len(r.highQ) == 0 && len(r.normalQ) == 0 {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		var idx int64
		if len(r.highQ) > 0 {
			idx, r.highQ = r.highQ[0], r.highQ[1:]
		} else {
			idx, r.normalQ = r.normalQ[0], r.normalQ[1:]
		}
		r.mu.Unlock()

		if _, err := r.ensureChunk(idx); err != nil {
			r.logger.Debug("prefetch failed",
				slog.Int64("chunk", idx),
				slog.String("error", err.Error()))
		}
	}
}

// ensureChunk returns the chunk data, fetching it if needed. Concurrent
// requests for the same chunk share one fetch.
func (r *RangeCacheReader) ensureChunk(idx int64) ([]byte, error) {
	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return nil, io.ErrClosedPipe
		}
		if el, ok := r.chunks[idx]; ok {
			r.order.MoveToFront(el)
			data := el.Value.(*cacheChunk).data
			r.mu.Unlock()
			return data, nil
		}
		waitCh, ok := r.inflight[idx]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-waitCh
		r.mu.Lock()
	}
	done := make(chan struct{})
	r.inflight[idx] = done
	r.mu.Unlock()

	data, err := r.fetchChunk(idx)

	r.mu.Lock()
	delete(r.inflight, idx)
	close(done)
	if err == nil {
		el := r.order.PushFront(&cacheChunk{index: idx, data: data})
		r.chunks[idx] = el
		r.usedBytes += int64(len(data))
		r.evictLocked()
	}
	r.mu.Unlock()
	return data, err
}

// evictLocked drops least-recently-used chunks over budget.
func (r *RangeCacheReader) evictLocked() {
	for r.usedBytes > r.cfg.MaxCacheBytes && r.order.Len() > 1 {
		el := r.order.Back()
		c := el.Value.(*cacheChunk)
		r.order.Remove(el)
		delete(r.chunks, c.index)
		r.usedBytes -= int64(len(c.data))
	}
}

func (r *RangeCacheReader) fetchChunk(idx int64) ([]byte, error) {
	start := idx * r.cfg.ChunkSize
	end := start + r.cfg.ChunkSize
	if end > r.size {
		end = r.size
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HeaderTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("%w: status %d for range fetch", ErrUnavailable, resp.StatusCode)
	}

	data := make([]byte, end-start)
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, fmt.Errorf("short range read: %w", err)
	}
	return data, nil
}

// Read serves from the cache, fetching misses synchronously. Sequential
// reads trigger normal-priority lookahead.
func (r *RangeCacheReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.pos >= r.size {
		r.mu.Unlock()
		return 0, io.EOF
	}
	pos := r.pos
	sequential := pos == r.lastReadEnd && pos != 0
	r.mu.Unlock()

	idx := pos / r.cfg.ChunkSize
	chunkStart := idx * r.cfg.ChunkSize

	r.mu.Lock()
	_, cached := r.chunks[idx]
	if cached {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()

	data, err := r.ensureChunk(idx)
	if err != nil {
		return 0, err
	}

	off := pos - chunkStart
	n := copy(p, data[off:])

	r.mu.Lock()
	r.pos = pos + int64(n)
	r.lastReadEnd = r.pos
	if sequential && r.cfg.PrefetchAhead > 0 {
		r.enqueueRangeLocked(r.pos, r.pos+r.cfg.PrefetchAhead, false)
	}
	r.mu.Unlock()
	r.cond.Broadcast()

	return n, nil
}

// Seek moves the position. A jump larger than the lookahead window cancels
// pending normal-priority fetches that no longer cover near-future reads.
func (r *RangeCacheReader) Seek(offset int64, whence Whence) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if whence == SizeQuery {
		return r.size, nil
	}
	old := r.pos
	r.pos = clampOffset(r.pos, r.size, offset, whence)

	delta := r.pos - old
	if delta < 0 {
		delta = -delta
	}
	window := r.cfg.PrefetchAhead
	if window <= 0 {
		window = r.cfg.ChunkSize
	}
	if delta > window {
		r.normalQ = r.normalQ[:0]
	}
	return r.pos, nil
}

// AbsoluteSize returns the total size from the range probe.
func (r *RangeCacheReader) AbsoluteSize() int64 {
	return r.size
}

// CacheStats returns hit/miss counters and current cache usage.
func (r *RangeCacheReader) CacheStats() (hits, misses, usedBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits, r.misses, r.usedBytes
}

// Close stops the prefetch worker and drops the cache.
func (r *RangeCacheReader) Close() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.highQ = nil
		r.normalQ = nil
		r.chunks = make(map[int64]*list.Element)
		r.order.Init()
		r.usedBytes = 0
		r.mu.Unlock()
		r.cond.Broadcast()
		close(r.stop)
	})
	return nil
}
