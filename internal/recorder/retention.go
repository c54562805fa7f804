package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"llm-tap/internal/metrics"
)

// Pruner removes record files older than a maximum age.
type Pruner struct {
	dir     string
	maxAge  time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPruner creates a Pruner for the records directory. m may be nil.
func NewPruner(dir string, maxAge time.Duration, m *metrics.Metrics, logger *slog.Logger) *Pruner {
	return &Pruner{
		dir:     dir,
		maxAge:  maxAge,
		now:     time.Now,
		metrics: m,
		logger:  logger.With("component", "retention"),
	}
}

// Prune walks the records directory and deletes *.json files whose
// modification time is older than the maximum age. It returns the number of
// files removed. A missing directory is not an error.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.maxAge)
	removed := 0

	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed concurrently.
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("remove expired record", "path", path, "err", err)
			return nil
		}
		removed++
		return nil
	})

	if p.metrics != nil && removed > 0 {
		p.metrics.RecordsPruned.Add(float64(removed))
	}
	if err != nil {
		return removed, fmt.Errorf("prune %s: %w", p.dir, err)
	}
	return removed, nil
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewScheduler creates a Scheduler. schedule is a standard 5-field cron expression.
func NewScheduler(pruner *Pruner, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "retention_scheduler"),
	}
}

// Start registers the pruning job and starts the cron runner.
//
// Common cron expressions:
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
//   - "*/15 * * * *" - Every 15 minutes
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.cancel = cancel

	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"dir", s.pruner.dir,
		"max_age", s.pruner.maxAge.String(),
	)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	removed, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "removed", removed, "err", err)
		return
	}
	if removed > 0 {
		s.logger.Info("scheduled pruning completed", "removed", removed)
	} else {
		s.logger.Debug("scheduled pruning completed, nothing expired")
	}
}

// Stop cancels any running prune and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// NextRun returns the next scheduled pruning time, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
