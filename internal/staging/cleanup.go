package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/logging"
)

// atomicWriteSuffix is the temp suffix used by fileutil.WriteFileAtomic.
const atomicWriteSuffix = ".tmp"

// CleanStaleResult contains the outcome of a stale temp file sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// SweepDirs returns the directories that can hold in-flight files for cfg,
// without duplicates.
func SweepDirs(cfg *config.Config) []string {
	candidates := []string{
		cfg.Paths.ArtifactDir,
		cfg.Paths.TextDir,
		filepath.Dir(cfg.Paths.CorpusFile),
		filepath.Dir(cfg.Paths.StateFile),
		filepath.Dir(cfg.Paths.SnapshotFile),
	}
	seen := make(map[string]struct{}, len(candidates))
	dirs := make([]string, 0, len(candidates))
	for _, dir := range candidates {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

// CleanStale removes in-flight files (".part" downloads and conversions,
// ".tmp" atomic writes) older than maxAge from dirs. A zero maxAge removes
// every one; callers must hold the run lock so no live writer owns them.
func CleanStale(ctx context.Context, dirs []string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range dirs {
		if ctx.Err() != nil {
			return result
		}
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || !isInFlight(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				continue
			}
			if maxAge > 0 && !info.ModTime().Before(cutoff) {
				continue
			}

			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				if logger != nil {
					logger.Warn("failed to remove stale temp file",
						logging.String("path", path),
						logging.Error(err),
						logging.String(logging.FieldEventType, "staging_cleanup_failed"),
						logging.String(logging.FieldErrorHint, "check directory permissions"),
						logging.String(logging.FieldImpact, "the matching record may be skipped as claimed"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, path)
			if logger != nil {
				logger.Info("removed stale temp file",
					logging.String("path", path),
					logging.Duration("age", time.Since(info.ModTime())),
					logging.String(logging.FieldEventType, "staging_cleanup"),
				)
			}
		}
	}

	return result
}

func isInFlight(name string) bool {
	return fileutil.IsTemp(name) || strings.HasSuffix(name, atomicWriteSuffix)
}
