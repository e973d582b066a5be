package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/gateway/cache"
)

// Area is one directory swept by the worker
type Area struct {
	Name string
	Root string
	// Match selects removable files; nil removes every regular file
	Match func(name string) bool
	// InUse protects files still owned by a request, typically an upload
	// queued behind a busy render slot. May be nil.
	InUse func(path string) bool
}

// TempFilesOnly matches the cache's in-progress write files
func TempFilesOnly(name string) bool {
	return strings.HasSuffix(name, ".tmp")
}

// Metrics receives sweep results
type Metrics interface {
	RecordCleanup(area string, removed int)
	UpdateCacheStats(entries int, diskBytes int64)
}

// StatsSource reports cache size after each sweep
type StatsSource interface {
	Stats() (cache.Stats, error)
}

// Worker removes files left behind by crashed renders: staging outputs,
// uploads whose render never finished and half-written cache temp files.
// Files younger than maxAge are never touched, so maxAge must exceed the
// longest render.
type Worker struct {
	areas    []Area
	interval time.Duration
	maxAge   time.Duration
	stats    StatsSource
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(areas []Area, interval, maxAge time.Duration, stats StatsSource, metrics Metrics, logger *zap.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		areas:    areas,
		interval: interval,
		maxAge:   maxAge,
		stats:    stats,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start sweeps once immediately, then on every interval
func (w *Worker) Start() {
	w.logger.Info("Cleanup worker starting",
		zap.Duration("interval", w.interval),
		zap.Duration("max_age", w.maxAge))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.RunOnce()
		for {
			select {
			case <-ticker.C:
				w.RunOnce()
			case <-w.ctx.Done():
				w.logger.Info("Cleanup worker shutting down")
				return
			}
		}
	}()
}

// Shutdown stops the worker and waits for a running sweep
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Cleanup worker stopped")
}

// RunOnce sweeps every area and refreshes cache stats
func (w *Worker) RunOnce() int {
	start := time.Now()
	cutoff := w.now().Add(-w.maxAge)
	total := 0

	for _, area := range w.areas {
		removed, err := w.sweep(area, cutoff)
		if err != nil {
			w.logger.Error("Cleanup failed for area",
				zap.String("area", area.Name),
				zap.String("root", area.Root),
				zap.Error(err))
		}
		if removed > 0 {
			w.logger.Info("Removed orphaned files",
				zap.String("area", area.Name),
				zap.Int("files_removed", removed))
		}
		if w.metrics != nil {
			w.metrics.RecordCleanup(area.Name, removed)
		}
		total += removed
	}

	if w.stats != nil && w.metrics != nil {
		if s, err := w.stats.Stats(); err != nil {
			w.logger.Warn("Failed to collect cache stats", zap.Error(err))
		} else {
			w.metrics.UpdateCacheStats(s.Entries, s.DiskBytes)
		}
	}

	w.logger.Debug("Cleanup sweep finished",
		zap.Int("files_removed", total),
		zap.Duration("duration", time.Since(start)))
	return total
}

func (w *Worker) sweep(area Area, cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(area.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if w.ctx.Err() != nil {
			return filepath.SkipAll
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if area.Match != nil && !area.Match(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if area.InUse != nil && area.InUse(path) {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Failed to remove orphaned file", zap.String("file_path", path), zap.Error(err))
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}
