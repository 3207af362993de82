package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loungehq/curator/internal/config"
)

// Scheduler fires the recurring pipeline operations by enqueueing jobs.
// It never executes work inline; all vendor and classifier I/O happens inside
// queue workers.
type Scheduler struct {
	config  *config.SchedulerConfig
	logger  *zap.Logger
	queue   *JobQueue
	tickers []*time.Ticker
	stopCh  chan struct{}
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, queue *JobQueue) *Scheduler {
	return &Scheduler{
		config: cfg,
		logger: logger,
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	intervals := []struct {
		name    string
		raw     string
		jobType JobType
		initial bool
	}{
		{"reconcile", s.config.ReconcileInterval, JobTypeReconcile, true},
		{"scoring", s.config.ScoringInterval, JobTypeScore, false},
		{"recovery", s.config.RecoveryInterval, JobTypeRecover, false},
		{"analysis", s.config.AnalysisInterval, JobTypeAnalyze, false},
		{"digest", s.config.DigestInterval, JobTypeDigest, false},
	}

	for _, entry := range intervals {
		interval, err := time.ParseDuration(entry.raw)
		if err != nil {
			s.logger.Error("Invalid scheduler interval",
				zap.String("name", entry.name),
				zap.String("interval", entry.raw),
				zap.Error(err))
			return fmt.Errorf("invalid %s interval: %w", entry.name, err)
		}

		s.logger.Info("Starting scheduled trigger",
			zap.String("name", entry.name),
			zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		s.tickers = append(s.tickers, ticker)

		// Reconciliation runs once at startup so a restart picks pending
		// snapshots straight back up.
		if entry.initial {
			s.enqueue(entry.jobType)
		}

		go func(name string, jobType JobType, ticker *time.Ticker) {
			for {
				select {
				case <-ticker.C:
					s.enqueue(jobType)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}(entry.name, entry.jobType, ticker)
	}

	return nil
}

func (s *Scheduler) Stop() {
	for _, ticker := range s.tickers {
		ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) enqueue(jobType JobType) {
	if _, err := s.queue.Submit(jobType, ""); err != nil {
		s.logger.Error("Failed to enqueue scheduled job",
			zap.String("job_type", string(jobType)),
			zap.Error(err))
	}
}

// AnalysisWindow returns the trailing window the correction analyzer scans.
func (s *Scheduler) AnalysisWindow() time.Duration {
	window, err := time.ParseDuration(s.config.AnalysisWindow)
	if err != nil || window <= 0 {
		return 7 * 24 * time.Hour
	}
	return window
}
