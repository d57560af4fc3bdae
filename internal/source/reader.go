// Package source provides byte sources for the transcoding pipeline.
//
// A source presents an arbitrary remote or locally-synced video file through
// a pull-style synchronous Reader that the demux bridge can drive. Three
// variants exist: a progressive HTTP download spooled to a temp file, a
// sparse range-fetching cache, and a locally-synced block log.
package source

import (
	"errors"
)

// Whence selects the seek origin for Reader.Seek.
type Whence int

const (
	// Absolute seeks to an absolute offset.
	Absolute Whence = iota
	// Relative seeks relative to the current position.
	Relative
	// FromEnd seeks relative to the end of the source.
	FromEnd
	// SizeQuery returns the total size without moving the position.
	SizeQuery
)

// Sentinel errors shared by all source variants.
var (
	// ErrUnavailable means the source could not be opened at all
	// (bad URL, non-success status, unresolvable size).
	ErrUnavailable = errors.New("source unavailable")

	// ErrStalled means the download made no progress past the idle
	// timeout. Terminal for the session.
	ErrStalled = errors.New("source stalled")

	// ErrNotSynced means a local-block source is missing required blocks.
	ErrNotSynced = errors.New("source not fully synced")

	// ErrCaughtUp means a synchronous read would cross the download
	// watermark. The reader refuses to block; the caller treats this as
	// terminal for the current pass.
	ErrCaughtUp = errors.New("reader caught up to download")
)

// Reader is the pull-style synchronous contract every source variant
// implements. Read returns io.EOF at the true end of the source and
// ErrCaughtUp when the requested bytes are not yet downloaded.
type Reader interface {
	// Read fills p from the current position.
	Read(p []byte) (int, error)

	// Seek moves the position. The position is clamped to [0, size].
	// SizeQuery returns the total size and leaves the position unchanged.
	Seek(offset int64, whence Whence) (int64, error)

	// AbsoluteSize returns the total source size in bytes, or -1 when
	// not yet known.
	AbsoluteSize() int64

	// Close releases the variant's resources.
	Close() error
}

// clampOffset resolves a seek target against the current position and size,
// clamping the result to [0, size].
func clampOffset(pos, size, offset int64, whence Whence) int64 {
	var target int64
	switch whence {
	case Absolute:
		target = offset
	case Relative:
		target = pos + offset
	case FromEnd:
		target = size + offset
	default:
		target = pos
	}
	if target < 0 {
		target = 0
	}
	if size >= 0 && target > size {
		target = size
	}
	return target
}
