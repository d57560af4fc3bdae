package transcoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/asticode/go-astits"
)

const tsPacketSize = 188

// patCache holds the raw PAT and PMT packets captured from the muxer's
// first output so later segments that do not open with a table can be
// patched to start with one.
type patCache struct {
	pat    []byte
	pmt    []byte
	pmtPID uint16
}

// Capture scans a committed segment for the PAT packet, parses it to learn
// the PMT PID, and keeps raw copies of both packets. Idempotent once both
// are cached.
func (c *patCache) Capture(segment []byte) {
	if c.pat != nil && c.pmt != nil {
		return
	}
	if c.pat == nil {
		if pkt := findPacketByPID(segment, 0); pkt != nil {
			c.pat = append([]byte(nil), pkt...)
			c.pmtPID = parsePMTPID(segment)
		}
	}
	if c.pat != nil && c.pmt == nil && c.pmtPID != 0 {
		if pkt := findPacketByPID(segment, c.pmtPID); pkt != nil {
			c.pmt = append([]byte(nil), pkt...)
		}
	}
}

// EnsureLeadingPAT returns the segment with a PAT (and PMT, when cached)
// prepended unless it already starts with one. A PAT-less segment before
// any capture passes through unchanged; the tables will open the next
// emission instead.
func (c *patCache) EnsureLeadingPAT(segment []byte) ([]byte, error) {
	if len(segment) < tsPacketSize || segment[0] != 0x47 {
		return nil, fmt.Errorf("%w: segment does not start with a TS packet", ErrBitstreamPatch)
	}
	if packetPID(segment[:tsPacketSize]) == 0 {
		return segment, nil
	}
	if c.pat == nil {
		return segment, nil
	}
	prefix := make([]byte, 0, 2*tsPacketSize)
	prefix = append(prefix, c.pat...)
	if c.pmt != nil {
		prefix = append(prefix, c.pmt...)
	}
	return append(prefix, segment...), nil
}

func packetPID(pkt []byte) uint16 {
	return (uint16(pkt[1]&0x1F) << 8) | uint16(pkt[2])
}

// findPacketByPID returns the first whole packet carrying the PID.
func findPacketByPID(data []byte, pid uint16) []byte {
	for off := 0; off+tsPacketSize <= len(data); off += tsPacketSize {
		pkt := data[off : off+tsPacketSize]
		if pkt[0] != 0x47 {
			return nil
		}
		if packetPID(pkt) == pid {
			return pkt
		}
	}
	return nil
}

// parsePMTPID reads the PAT table out of the stream to find the program
// map PID. Returns 0 when no PAT is parseable.
func parsePMTPID(data []byte) uint16 {
	dem := astits.NewDemuxer(context.Background(), bytes.NewReader(data),
		astits.DemuxerOptPacketSize(tsPacketSize))
	for {
		d, err := dem.NextData()
		if err != nil {
			return 0
		}
		if d.PAT != nil && len(d.PAT.Programs) > 0 {
			return d.PAT.Programs[0].ProgramMapID
		}
	}
}
