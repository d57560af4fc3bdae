package source

import (
	"fmt"
	"net/url"
)

// Kind tags the source descriptor variant.
type Kind string

const (
	// KindProgressiveHTTP downloads the whole file progressively into a
	// temp file while the pipeline reads it.
	KindProgressiveHTTP Kind = "progressive-http"

	// KindRangeHTTP serves reads from a sparse range-fetching cache.
	// Compat variant; progressive-http is the modern path.
	KindRangeHTTP Kind = "range-http"

	// KindLocalBlock reads from an append-only block log already synced
	// to the local node.
	KindLocalBlock Kind = "local-block"
)

// Descriptor identifies a source. It is a tagged variant: URL fields apply
// to the HTTP kinds, block fields to the local-block kind.
type Descriptor struct {
	Kind Kind `json:"kind"`

	// Title is a caller-provided display title, consulted by pre-scan
	// classification (release names usually encode codecs).
	Title string `json:"title,omitempty"`

	// HTTP kinds.
	URL             string `json:"url,omitempty"`
	WaitForComplete bool   `json:"waitForComplete,omitempty"`

	// local-block kind.
	BlocksKey   string `json:"blocksCoreKey,omitempty"`
	BlockOffset int64  `json:"blockOffset,omitempty"`
	BlockLength int64  `json:"blockLength,omitempty"`
	ByteOffset  int64  `json:"byteOffset,omitempty"`
	ByteLength  int64  `json:"byteLength,omitempty"`
}

// Validate checks the descriptor for structural problems.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindProgressiveHTTP, KindRangeHTTP:
		if d.URL == "" {
			return fmt.Errorf("%w: missing url", ErrUnavailable)
		}
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: invalid url %q", ErrUnavailable, Redact(d.URL))
		}
	case KindLocalBlock:
		if d.BlocksKey == "" || d.BlockLength <= 0 || d.ByteLength <= 0 {
			return fmt.Errorf("%w: incomplete block descriptor", ErrUnavailable)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrUnavailable, d.Kind)
	}
	return nil
}

// Key returns a stable identity used for session deduplication. Two Start
// calls with the same key share a session.
func (d Descriptor) Key() string {
	switch d.Kind {
	case KindLocalBlock:
		return fmt.Sprintf("%s|%s|%d+%d|%d+%d",
			d.Kind, d.BlocksKey, d.BlockOffset, d.BlockLength, d.ByteOffset, d.ByteLength)
	default:
		return fmt.Sprintf("%s|%s", d.Kind, d.URL)
	}
}

// Redacted returns a loggable identity with URL query stripped.
func (d Descriptor) Redacted() string {
	if d.Kind == KindLocalBlock {
		return d.Key()
	}
	return fmt.Sprintf("%s|%s", d.Kind, Redact(d.URL))
}

// Redact strips the query string from a URL for logging.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
