// Package store holds a session's segment catalog: a single writer (the
// transcoder) publishing immutable segments to many HTTP readers, with an
// LRU spill of cold segments to the session directory.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrDestroyed is returned by Add after Destroy.
	ErrDestroyed = errors.New("segment store destroyed")
)

// Config configures a segment store.
type Config struct {
	// SessionDir receives spilled segment files (segment<index>.ts).
	SessionDir string

	// MaxMemorySegments caps the number of segments held in memory
	// before the least-recently-accessed one spills to disk.
	MaxMemorySegments int

	// SegmentTTL ages segments out of the catalog entirely.
	SegmentTTL time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default memory and TTL policy.
func DefaultConfig(sessionDir string) Config {
	return Config{
		SessionDir:        sessionDir,
		MaxMemorySegments: 30,
		SegmentTTL:        2 * time.Hour,
	}
}

// SegmentInfo is the catalog view the playlist renders from.
type SegmentInfo struct {
	Index    int
	Duration float64
	Size     int
}

type entry struct {
	duration float64
	size     int
	data     []byte // nil once spilled
	onDisk   bool
	added    time.Time
	accessed time.Time
}

// Store is the per-session segment catalog.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	segments  map[int]*entry
	highest   int
	destroyed bool

	// spill tasks run detached from Add and are joined on Destroy.
	spill errgroup.Group

	writeFailures int
}

// New creates a store. The session directory is created lazily on the
// first spill.
func New(cfg Config) *Store {
	if cfg.MaxMemorySegments <= 0 {
		cfg.MaxMemorySegments = 30
	}
	if cfg.SegmentTTL <= 0 {
		cfg.SegmentTTL = 2 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "store")),
		segments: map[int]*entry{},
		highest:  -1,
	}
}

// Add copies data and publishes the segment atomically: a reader either
// does not see the index or sees the full bytes. Spilling to disk happens
// in the background and never blocks the producer.
func (s *Store) Add(index int, duration float64, data []byte) error {
	owned := make([]byte, len(data))
	copy(owned, data)

	now := time.Now()
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.segments[index] = &entry{
		duration: duration,
		size:     len(owned),
		data:     owned,
		added:    now,
		accessed: now,
	}
	if index > s.highest {
		s.highest = index
	}
	victim := s.pickSpillVictimLocked()
	s.mu.Unlock()

	if victim >= 0 {
		s.spill.Go(func() error {
			s.spillSegment(victim)
			return nil
		})
	}
	return nil
}

// pickSpillVictimLocked returns the least-recently-accessed in-memory
// index when over the cap, -1 otherwise.
func (s *Store) pickSpillVictimLocked() int {
	inMemory := 0
	victim := -1
	var oldest time.Time
	for idx, e := range s.segments {
		if e.data == nil {
			continue
		}
		inMemory++
		if victim == -1 || e.accessed.Before(oldest) {
			victim = idx
			oldest = e.accessed
		}
	}
	if inMemory <= s.cfg.MaxMemorySegments {
		return -1
	}
	return victim
}

// spillSegment writes one segment to disk and releases its memory slot. A
// write failure downgrades to keeping the segment in memory.
func (s *Store) spillSegment(index int) {
	s.mu.RLock()
	e, ok := s.segments[index]
	var data []byte
	if ok && e.data != nil {
		data = e.data
	}
	s.mu.RUnlock()
	if data == nil {
		return
	}

	if err := os.MkdirAll(s.cfg.SessionDir, 0o755); err != nil {
		s.noteWriteFailure(index, err)
		return
	}
	path := s.segmentPath(index)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.noteWriteFailure(index, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		s.noteWriteFailure(index, err)
		return
	}

	s.mu.Lock()
	if e, ok := s.segments[index]; ok {
		e.data = nil
		e.onDisk = true
	}
	s.mu.Unlock()
	s.logger.Debug("segment spilled", slog.Int("index", index), slog.Int("bytes", len(data)))
}

func (s *Store) noteWriteFailure(index int, err error) {
	s.mu.Lock()
	s.writeFailures++
	s.mu.Unlock()
	s.logger.Warn("segment spill failed, keeping in memory",
		slog.Int("index", index), slog.Any("error", err))
}

func (s *Store) segmentPath(index int) string {
	return filepath.Join(s.cfg.SessionDir, fmt.Sprintf("segment%d.ts", index))
}

// Has reports whether the segment is published.
func (s *Store) Has(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.segments[index]
	return ok
}

// Get returns a copy of the segment bytes, or nil when absent. Disk-spilled
// segments are read back from the session directory.
func (s *Store) Get(index int) []byte {
	s.mu.Lock()
	e, ok := s.segments[index]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	e.accessed = time.Now()
	if e.data != nil {
		out := make([]byte, len(e.data))
		copy(out, e.data)
		s.mu.Unlock()
		return out
	}
	onDisk := e.onDisk
	s.mu.Unlock()

	if !onDisk {
		return nil
	}
	data, err := os.ReadFile(s.segmentPath(index))
	if err != nil {
		s.logger.Warn("reading spilled segment", slog.Int("index", index), slog.Any("error", err))
		return nil
	}
	return data
}

// HighestComplete returns the highest published index, -1 when empty.
func (s *Store) HighestComplete() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highest
}

// Segments returns the published catalog ordered by index.
func (s *Store) Segments() []SegmentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SegmentInfo, 0, len(s.segments))
	for idx := 0; idx <= s.highest; idx++ {
		if e, ok := s.segments[idx]; ok {
			out = append(out, SegmentInfo{Index: idx, Duration: e.duration, Size: e.size})
		}
	}
	return out
}

// WriteFailures returns the count of downgraded spill attempts.
func (s *Store) WriteFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeFailures
}

// Sweep drops segments older than the TTL, returning how many were
// removed. Wired to the process cron scheduler.
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-s.cfg.SegmentTTL)

	s.mu.Lock()
	var removed []int
	for idx, e := range s.segments {
		if e.added.Before(cutoff) {
			removed = append(removed, idx)
			delete(s.segments, idx)
		}
	}
	s.mu.Unlock()

	for _, idx := range removed {
		os.Remove(s.segmentPath(idx))
	}
	if len(removed) > 0 {
		s.logger.Info("ttl sweep removed segments", slog.Int("count", len(removed)))
	}
	return len(removed)
}

// Destroy waits for in-flight spill tasks and removes the session
// directory. The store refuses new segments afterwards.
func (s *Store) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	// Spill tasks never return errors; they downgrade instead.
	_ = s.spill.Wait()

	s.mu.Lock()
	s.segments = map[int]*entry{}
	s.mu.Unlock()

	if s.cfg.SessionDir != "" {
		return os.RemoveAll(s.cfg.SessionDir)
	}
	return nil
}
