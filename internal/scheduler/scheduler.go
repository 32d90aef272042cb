// Package scheduler fires plugin broadcasts at a fixed time of day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/log"
)

//go:generate mockgen -destination=mocks/mock_broadcaster.go -package=mocks github.com/mattjoyce/convoy/internal/scheduler Broadcaster

// Broadcaster runs one scheduled fire of a plugin.
type Broadcaster interface {
	Broadcast(ctx context.Context, plugin string) (int, error)
}

// NextRun returns the first time after now matching sc, in now's location.
// With WeekdaysOnly, Saturday and Sunday are skipped.
func NextRun(now time.Time, sc config.ScheduleConfig) (time.Time, error) {
	hour, minute, err := sc.Clock()
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
	}
	if sc.WeekdaysOnly {
		switch next.Weekday() {
		case time.Saturday:
			next = next.AddDate(0, 0, 2)
		case time.Sunday:
			next = next.AddDate(0, 0, 1)
		}
	}
	return next, nil
}

// Scheduler runs one timer loop per scheduled plugin.
type Scheduler struct {
	schedules map[string]config.ScheduleConfig
	target    Broadcaster
	logger    *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler for the given plugin schedules.
func New(schedules map[string]config.ScheduleConfig, target Broadcaster) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		target:    target,
		logger:    log.WithComponent("scheduler"),
		now:       time.Now,
		after:     time.After,
		stopCh:    make(chan struct{}),
	}
}

// Start validates every schedule and starts its loop.
func (s *Scheduler) Start(ctx context.Context) error {
	names := slices.Sorted(maps.Keys(s.schedules))
	for _, name := range names {
		if _, _, err := s.schedules[name].Clock(); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	for _, name := range names {
		s.wg.Add(1)
		go s.loop(ctx, name, s.schedules[name])
	}
	s.logger.Info("scheduler started", "plugins", names)
	return nil
}

// Stop ends every loop and waits for them. A broadcast already in progress
// finishes first; the workers it spawned are not waited for.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, sc config.ScheduleConfig) {
	defer s.wg.Done()
	logger := s.logger.With("plugin", name)

	for {
		now := s.now()
		next, err := NextRun(now, sc)
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			return
		}
		logger.Debug("next run scheduled", "at", next)

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		n, err := s.target.Broadcast(ctx, name)
		if err != nil {
			logger.Error("scheduled broadcast failed", "error", err)
			continue
		}
		logger.Info("scheduled broadcast sent", "conversations", n)
	}
}
