package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one run of a background task.
type Job func(ctx context.Context) error

// Scheduler runs background jobs until their context is cancelled.
type Scheduler struct {
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewScheduler builds a Scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger, now: time.Now}
}

// Every runs job on a fixed interval.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	if interval <= 0 {
		s.logger.Warn("job disabled", zap.String("job", name))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("job scheduled", zap.String("job", name), zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, name, job)
			}
		}
	}()
}

// Daily runs job once a day at hourUTC:00.
func (s *Scheduler) Daily(ctx context.Context, name string, hourUTC int, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next := NextDailyRun(s.now(), hourUTC)
			s.logger.Info("job scheduled", zap.String("job", name), zap.Time("next_run", next))
			timer := time.NewTimer(next.Sub(s.now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.run(ctx, name, job)
			}
		}
	}()
}

// Wait blocks until every job goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	start := s.now()
	if err := job(ctx); err != nil {
		s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Debug("job completed", zap.String("job", name), zap.Duration("duration", s.now().Sub(start)))
}

// NextDailyRun returns the first hourUTC:00 strictly after now.
func NextDailyRun(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
