package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sweep removes ingest scratch directories under dir older than maxAge. Runs
// interrupted by a crash leave these behind; a live run never lasts that long.
// It returns the number of directories removed.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var removed int
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// SweepScratch runs Sweep over the pipeline's scratch directory.
func (p *Pipeline) SweepScratch(maxAge time.Duration) {
	removed, err := Sweep(p.scratchDir, maxAge, time.Now())
	if err != nil {
		p.logger.Warn("scratch sweep failed", zap.Error(err))
	}
	if removed > 0 {
		p.logger.Info("scratch sweep removed stale runs", zap.Int("removed", removed))
	}
}
