package codec

import (
	"bytes"
	"sync"
)

// H264Params caches the most recent SPS and PPS seen in the stream and can
// prepend them to keyframe access units that lack them. Decoders joining at
// an arbitrary segment need the parameter sets in-band; hardware encoders in
// particular emit them only once at stream start.
type H264Params struct {
	mu  sync.RWMutex
	sps []byte
	pps []byte
}

// Extract scans an access unit and caches any SPS/PPS found. Returns true
// when a parameter set changed.
func (p *H264Params) Extract(au [][]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	for _, nalu := range au {
		switch NALType(nalu) {
		case NALTypeSPS:
			if !bytes.Equal(p.sps, nalu) {
				p.sps = append([]byte(nil), nalu...)
				changed = true
			}
		case NALTypePPS:
			if !bytes.Equal(p.pps, nalu) {
				p.pps = append([]byte(nil), nalu...)
				changed = true
			}
		}
	}
	return changed
}

// Ready reports whether both SPS and PPS have been captured.
func (p *H264Params) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sps != nil && p.pps != nil
}

// Get returns copies of the cached parameter sets.
func (p *H264Params) Get() (sps, pps []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]byte(nil), p.sps...), append([]byte(nil), p.pps...)
}

// Set overrides the cached parameter sets, for containers that carry them
// out-of-band (avcC).
func (p *H264Params) Set(sps, pps []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sps = append([]byte(nil), sps...)
	p.pps = append([]byte(nil), pps...)
}

// WithParams returns the access unit with SPS and PPS prepended when it
// contains an IDR slice and lacks them. Non-keyframe units and units that
// already carry parameter sets pass through unchanged.
func (p *H264Params) WithParams(au [][]byte) [][]byte {
	if !AUContainsIDR(au) || auHasParams(au) {
		return au
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sps == nil || p.pps == nil {
		return au
	}
	out := make([][]byte, 0, len(au)+2)
	out = append(out, append([]byte(nil), p.sps...), append([]byte(nil), p.pps...))
	return append(out, au...)
}

func auHasParams(au [][]byte) bool {
	hasSPS, hasPPS := false, false
	for _, nalu := range au {
		switch NALType(nalu) {
		case NALTypeSPS:
			hasSPS = true
		case NALTypePPS:
			hasPPS = true
		}
	}
	return hasSPS && hasPPS
}
