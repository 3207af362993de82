package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loungehq/curator/internal/models"
)

// Summary is the partial-success result of one pipeline operation run.
type Summary struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Remaining int `json:"remaining"`
}

type StatsService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStatsService(db *gorm.DB, logger *zap.Logger) *StatsService {
	return &StatsService{
		db:     db,
		logger: logger,
	}
}

// RecordRun persists a run summary for an operation.
func (s *StatsService) RecordRun(operation string, startedAt time.Time, summary Summary) {
	run := &models.PipelineRun{
		Operation:  operation,
		Processed:  summary.Processed,
		Errors:     summary.Errors,
		Remaining:  summary.Remaining,
		DurationMS: time.Since(startedAt).Milliseconds(),
		StartedAt:  startedAt,
	}

	if err := s.db.Create(run).Error; err != nil {
		s.logger.Error("Failed to record pipeline run",
			zap.String("operation", operation),
			zap.Error(err))
	}
}

// ErrorLogOption sets optional fields on an error log row.
type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(platform string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Platform = platform
	}
}

func WithContent(contentID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ContentID = &contentID
	}
}

func WithSnapshot(snapshotID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.SnapshotID = snapshotID
	}
}

// RecordError persists an isolated failure for later review.
func (s *StatsService) RecordError(level, source, message string, options ...ErrorLogOption) {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	if err := s.db.Create(errorLog).Error; err != nil {
		s.logger.Error("Failed to record error log",
			zap.String("source", source),
			zap.Error(err))
	}
}

// GetRecentRuns returns the latest run summaries, newest first.
func (s *StatsService) GetRecentRuns(limit int) ([]models.PipelineRun, error) {
	var runs []models.PipelineRun
	err := s.db.Order("created_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// CleanupOldData removes aged run summaries and resolved error logs.
func (s *StatsService) CleanupOldData(daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)

	if err := s.db.Where("created_at < ?", cutoffDate).Delete(&models.PipelineRun{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup pipeline runs: %w", err)
	}

	if err := s.db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	return nil
}
