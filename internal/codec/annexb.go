package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// H.264 NAL unit types used by the pipeline.
const (
	NALTypeIDR = 5
	NALTypeSPS = 7
	NALTypePPS = 8
)

// NALType returns the H.264 NAL unit type of a single NAL unit.
func NALType(nalu []byte) int {
	if len(nalu) == 0 {
		return -1
	}
	return int(nalu[0] & 0x1F)
}

// IsAnnexB reports whether the buffer starts with an Annex B start code.
func IsAnnexB(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// AVCCToNALUs splits a length-prefixed (AVCC) sample into NAL units.
// naluLengthSize is LengthSizeMinusOne+1 from the avcC box, 1 to 4 bytes.
// Already-Annex-B input is split on start codes instead, so the conversion
// is idempotent.
func AVCCToNALUs(sample []byte, naluLengthSize int) ([][]byte, error) {
	if IsAnnexB(sample) {
		return AnnexBToNALUs(sample)
	}
	if naluLengthSize < 1 || naluLengthSize > 4 {
		return nil, fmt.Errorf("invalid NALU length size %d", naluLengthSize)
	}

	var nalus [][]byte
	for pos := 0; pos < len(sample); {
		if pos+naluLengthSize > len(sample) {
			return nil, fmt.Errorf("truncated NALU length at offset %d", pos)
		}
		var size int
		switch naluLengthSize {
		case 4:
			size = int(binary.BigEndian.Uint32(sample[pos:]))
		case 3:
			size = int(sample[pos])<<16 | int(sample[pos+1])<<8 | int(sample[pos+2])
		case 2:
			size = int(binary.BigEndian.Uint16(sample[pos:]))
		case 1:
			size = int(sample[pos])
		}
		pos += naluLengthSize
		if size <= 0 || pos+size > len(sample) {
			return nil, fmt.Errorf("NALU size %d exceeds sample at offset %d", size, pos)
		}
		nalus = append(nalus, sample[pos:pos+size])
		pos += size
	}
	if len(nalus) == 0 {
		return nil, fmt.Errorf("sample contains no NAL units")
	}
	return nalus, nil
}

// AnnexBToNALUs splits Annex B data into NAL units.
func AnnexBToNALUs(data []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parsing Annex B: %w", err)
	}
	return au, nil
}

// NALUsToAnnexB serializes NAL units with 4-byte start codes.
func NALUsToAnnexB(nalus [][]byte) ([]byte, error) {
	data, err := h264.AnnexB(nalus).Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling Annex B: %w", err)
	}
	return data, nil
}

// AUContainsIDR reports whether the access unit contains an IDR slice.
func AUContainsIDR(au [][]byte) bool {
	for _, nalu := range au {
		if NALType(nalu) == NALTypeIDR {
			return true
		}
	}
	return false
}
