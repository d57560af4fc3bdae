package demux

import (
	"bytes"
	"fmt"
	"io"
)

// Format is a sniffed container format.
type Format string

const (
	FormatMPEGTS   Format = "mpegts"
	FormatMP4      Format = "mp4"
	FormatMatroska Format = "matroska"
	FormatUnknown  Format = "unknown"
)

const tsPacketSize = 188

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Probe sniffs the container format from the first bytes of the stream and
// restores the read position.
func Probe(rs io.ReadSeeker) (Format, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return FormatUnknown, err
	}
	defer rs.Seek(pos, io.SeekStart)

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, err
	}

	head := make([]byte, 2*tsPacketSize+1)
	n, err := io.ReadFull(rs, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("probing container: %w", err)
	}
	head = head[:n]

	switch {
	case len(head) >= 4 && bytes.Equal(head[:4], ebmlMagic):
		return FormatMatroska, nil
	case len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")):
		return FormatMP4, nil
	case looksLikeTS(head):
		return FormatMPEGTS, nil
	default:
		return FormatUnknown, nil
	}
}

// looksLikeTS requires sync bytes at three consecutive packet boundaries.
func looksLikeTS(head []byte) bool {
	if len(head) < 2*tsPacketSize+1 {
		return len(head) > 0 && head[0] == 0x47
	}
	return head[0] == 0x47 && head[tsPacketSize] == 0x47 && head[2*tsPacketSize] == 0x47
}
