// Package demux adapts source readers to container demuxers and extracts
// timed access units from MPEG-TS and MP4 input.
package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/caststream/caststream/internal/source"
)

// DownloadProgress is implemented by sources whose backing bytes arrive
// over time. The bridge uses it to decide whether a caught-up read should
// wait for more data or give up.
type DownloadProgress interface {
	Written() int64
	Complete() bool
	Err() error
}

// Bridge presents a source.Reader as the synchronous io.ReadSeeker the
// demuxers require. Reads that catch up with an in-flight download block
// until bytes arrive, the download fails, or the context is cancelled;
// sources without download progress surface the caught-up error directly.
type Bridge struct {
	ctx  context.Context
	src  source.Reader
	poll time.Duration

	mu       sync.Mutex
	consumed int64
}

// NewBridge wraps a source reader. The context bounds every blocking wait.
func NewBridge(ctx context.Context, src source.Reader) *Bridge {
	return &Bridge{
		ctx:  ctx,
		src:  src,
		poll: 25 * time.Millisecond,
	}
}

// Read reads from the source, waiting out caught-up conditions when the
// download is still making progress.
func (b *Bridge) Read(p []byte) (int, error) {
	for {
		n, err := b.src.Read(p)
		if n > 0 {
			b.mu.Lock()
			pos, _ := b.src.Seek(0, source.Relative)
			if pos > b.consumed {
				b.consumed = pos
			}
			b.mu.Unlock()
			return n, nil
		}
		switch {
		case err == nil:
			return 0, io.EOF
		case errors.Is(err, io.EOF):
			return 0, io.EOF
		case errors.Is(err, source.ErrCaughtUp):
			if waitErr := b.waitForProgress(); waitErr != nil {
				return 0, waitErr
			}
		default:
			return 0, err
		}
	}
}

// waitForProgress blocks until the downloader has advanced past the current
// position or terminally failed.
func (b *Bridge) waitForProgress() error {
	dp, ok := b.src.(DownloadProgress)
	if !ok {
		return source.ErrCaughtUp
	}

	pos, err := b.src.Seek(0, source.Relative)
	if err != nil {
		return err
	}

	for {
		if derr := dp.Err(); derr != nil {
			return derr
		}
		if dp.Complete() || dp.Written() > pos {
			return nil
		}
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		case <-time.After(b.poll):
		}
	}
}

// Seek implements io.Seeker with the standard whence values.
func (b *Bridge) Seek(offset int64, whence int) (int64, error) {
	var w source.Whence
	switch whence {
	case io.SeekStart:
		w = source.Absolute
	case io.SeekCurrent:
		w = source.Relative
	case io.SeekEnd:
		w = source.FromEnd
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	return b.src.Seek(offset, w)
}

// Size returns the total source size via the size query.
func (b *Bridge) Size() (int64, error) {
	return b.src.Seek(0, source.SizeQuery)
}

// Consumed returns the furthest byte position delivered to the demuxer,
// the consumer side of caught-up detection.
func (b *Bridge) Consumed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}
