package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/desertthunder/mvx/internal/shared"
)

// Sweeper removes stale files from the transfer temp directory.
//
// It only runs when a schedule is configured; by default temp files stay until an explicit cleanup.
type Sweeper struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
	cron   *cron.Cron
	logger *log.Logger
}

func NewSweeper(dir string, maxAge time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Sweeper{
		dir:    dir,
		maxAge: maxAge,
		now:    time.Now,
		logger: shared.WithLogger(logger, "component", "sweeper"),
	}
}

// Sweep removes regular files in the temp directory older than the max age and returns their paths.
//
// Removal failures are logged and skipped.
func (s *Sweeper) Sweep() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", shared.ErrLocalWrite, err)
	}

	cutoff := s.now().Add(-s.maxAge)
	var removed []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove temp file", "path", path, "error", err)
			continue
		}
		removed = append(removed, path)
	}

	if len(removed) > 0 {
		s.logger.Info("temp files swept", "count", len(removed), "dir", s.dir)
	}
	return removed, nil
}

// Start schedules Sweep with a six-field cron spec (seconds first), e.g. "0 */5 * * * *".
func (s *Sweeper) Start(spec string) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Error("temp sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %w", shared.ErrConfiguration, spec, err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("temp sweep scheduled", "schedule", spec, "max_age", s.maxAge)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
