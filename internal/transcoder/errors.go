package transcoder

import (
	"errors"

	"github.com/caststream/caststream/internal/source"
)

// Pipeline-side failures. Source-side failures keep their sentinels from
// the source package; Diagnostic folds both into the status vocabulary.
var (
	// ErrCodecFailure is a fatal mux or parse failure, or an exhausted
	// per-packet error budget.
	ErrCodecFailure = errors.New("codec failure")

	// ErrBitstreamPatch is a failure while patching a committed segment.
	ErrBitstreamPatch = errors.New("bitstream patch failed")

	// ErrSegmentWrite is a failure to hand a segment to the store.
	ErrSegmentWrite = errors.New("segment write failed")
)

// Diagnostic maps a terminal pipeline error onto the stable status code
// exposed to status polling clients.
func Diagnostic(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, source.ErrUnavailable):
		return "SourceUnavailable"
	case errors.Is(err, source.ErrStalled):
		return "SourceStalled"
	case errors.Is(err, source.ErrNotSynced):
		return "SourceNotSynced"
	case errors.Is(err, source.ErrCaughtUp):
		return "ReaderCaughtUp"
	case errors.Is(err, ErrBitstreamPatch):
		return "BitstreamPatch"
	case errors.Is(err, ErrSegmentWrite):
		return "SegmentWrite"
	case errors.Is(err, ErrCodecFailure):
		return "CodecFailure"
	default:
		return "Internal"
	}
}
