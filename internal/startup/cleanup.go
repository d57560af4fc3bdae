// Package startup runs one-shot boot tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempDirPrefix marks session temp directories for orphan cleanup.
const TempDirPrefix = "caststream-session-"

// CleanupOrphanedSessionDirs removes session temp directories left behind
// by previous runs, keeping anything younger than maxAge in case another
// instance is live. Returns the number of directories removed.
func CleanupOrphanedSessionDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), TempDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("removing orphaned session dir",
				slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
		logger.Info("removed orphaned session dir", slog.String("path", path))
	}
	return removed, nil
}
