// Package ffmpeg locates the FFmpeg binary, inventories its encoders, and
// runs transcode processes that emit continuous MPEG-TS on stdout.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryInfo describes a detected FFmpeg installation.
type BinaryInfo struct {
	Path         string   `json:"path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether the named encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// H.264 encoder candidates. libx264 is preferred by default because it
// reliably emits SPS/PPS with every keyframe (repeat-headers); hardware
// encoders need the parameter-set patch downstream.
var (
	softwareH264 = []string{"libx264"}
	hardwareH264 = []string{"h264_nvenc", "h264_qsv", "h264_vaapi", "h264_videotoolbox"}
)

// SelectH264Encoder picks the first available encoder, software first when
// preferSoftware is set. Returns an error when no H.264 encoder exists.
func SelectH264Encoder(info *BinaryInfo, preferSoftware bool) (string, error) {
	order := append(append([]string{}, softwareH264...), hardwareH264...)
	if !preferSoftware {
		order = append(append([]string{}, hardwareH264...), softwareH264...)
	}
	for _, name := range order {
		if info.HasEncoder(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no H.264 encoder available in %s", info.Path)
}

// BinaryDetector finds and caches the FFmpeg installation.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector with a 5 minute cache.
func NewBinaryDetector() *BinaryDetector {
	return &BinaryDetector{cacheTTL: 5 * time.Minute}
}

// Detect locates ffmpeg and queries its capabilities. Results are cached.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	path, err := findBinary("ffmpeg", "CASTSTREAM_FFMPEG_BINARY")
	if err != nil {
		return nil, err
	}

	info := &BinaryInfo{Path: path}

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("querying ffmpeg version: %w", err)
	}
	parseVersion(string(out), info)

	if out, err := exec.CommandContext(ctx, path, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// findBinary resolves a binary: env var, then the working directory, then
// PATH.
func findBinary(name, envVar string) (string, error) {
	if envPath := os.Getenv(envVar); envPath != "" {
		if isExecutable(envPath) {
			return envPath, nil
		}
	}
	local := "./" + name
	if isExecutable(local) {
		return local, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

var versionRe = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

func parseVersion(out string, info *BinaryInfo) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 3 {
			info.Version = parts[2]
			if m := versionRe.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		}
		return
	}
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D libx264  H.264 ..." after a dashed separator.
func parseEncoders(out string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		fields := strings.Fields(strings.TrimSpace(line[6:]))
		if len(fields) >= 1 && fields[0] != "" {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders
}
