package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loungehq/curator/internal/models"
	"github.com/loungehq/curator/internal/service/classifier"
	"github.com/loungehq/curator/pkg/util"
)

const (
	// MaxScoreBatchSize bounds one scoring invocation for latency and cost.
	MaxScoreBatchSize = 100

	// DefaultScore is the conservative mid-range fallback when the classifier
	// times out or returns unusable output.
	DefaultScore  = 50
	defaultReason = "relevancy could not be determined automatically"

	scoringSystemPrompt = "You rate how relevant a piece of content is to a set of topics. " +
		"Respond with only a JSON object of the form {\"score\": <integer 0-100>, \"reason\": \"<one sentence>\"}."
)

// ScorerService asks the classification capability for a 0-100 relevancy
// verdict per unscored content item and writes it onto the row. It does not
// decide keep vs. suppress; that is handed to the lifecycle arbiter.
type ScorerService struct {
	db         *gorm.DB
	classifier Classifier
	lifecycle  *LifecycleService
	stats      *StatsService
	logger     *zap.Logger
}

func NewScorerService(db *gorm.DB, cls Classifier, lifecycle *LifecycleService, stats *StatsService, logger *zap.Logger) *ScorerService {
	return &ScorerService{
		db:         db,
		classifier: cls,
		lifecycle:  lifecycle,
		stats:      stats,
		logger:     logger,
	}
}

// ScoreBatch scores up to limit unscored, processed content items whose
// creators hold at least one lounge membership, then re-arbitrates each one.
// A single bad classifier response never fails the batch.
func (s *ScorerService) ScoreBatch(ctx context.Context, limit int) Summary {
	startedAt := time.Now()
	var summary Summary

	if limit <= 0 || limit > MaxScoreBatchSize {
		limit = MaxScoreBatchSize
	}

	var items []models.Content
	err := s.db.WithContext(ctx).
		Where("processing_status = ?", models.ProcessingStatusProcessed).
		Where("relevancy_checked_at IS NULL").
		Where("manually_approved = ?", false).
		Where("EXISTS (SELECT 1 FROM creator_lounges cl WHERE cl.creator_id = contents.creator_id)").
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		s.logger.Error("Failed to load unscored content", zap.Error(err))
		summary.Errors++
		return summary
	}

	var unscored int64
	s.db.Model(&models.Content{}).
		Where("processing_status = ? AND relevancy_checked_at IS NULL", models.ProcessingStatusProcessed).
		Count(&unscored)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if err := s.scoreOne(ctx, &item); err != nil {
			summary.Errors++
			s.stats.RecordError("ERROR", "scorer", err.Error(), WithContent(item.ID), WithPlatform(item.Platform))
			s.logger.Error("Failed to score content",
				zap.Uint("content_id", item.ID),
				zap.Error(err))
			continue
		}
		summary.Processed++
	}

	summary.Remaining = int(unscored) - summary.Processed
	if summary.Remaining < 0 {
		summary.Remaining = 0
	}

	s.stats.RecordRun("score", startedAt, summary)
	return summary
}

func (s *ScorerService) scoreOne(ctx context.Context, item *models.Content) error {
	prompt, err := s.buildPrompt(item)
	if err != nil {
		return err
	}

	score := DefaultScore
	reason := defaultReason

	raw, err := s.classifier.Classify(ctx, scoringSystemPrompt, prompt)
	if err != nil {
		// Classifier failure is defaulted, not propagated.
		s.logger.Warn("Classifier call failed, applying default score",
			zap.Uint("content_id", item.ID),
			zap.Error(err))
	} else if result, ok := classifier.ParseScore(raw); ok {
		score = result.Score
		reason = result.Reason
	} else {
		s.logger.Warn("Classifier returned malformed output, applying default score",
			zap.Uint("content_id", item.ID),
			zap.String("raw", util.Truncate(raw, 200)))
	}

	now := time.Now()
	err = s.db.Model(&models.Content{}).
		Where("id = ? AND manually_approved = ?", item.ID, false).
		Updates(map[string]interface{}{
			"relevancy_score":      score,
			"relevancy_reason":     reason,
			"relevancy_checked_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to write score: %w", err)
	}

	if err := s.lifecycle.ApplyScore(ctx, item.ID); err != nil {
		return fmt.Errorf("failed to apply score: %w", err)
	}

	return nil
}

// buildPrompt grounds the request in every member lounge's theme plus any
// human-approved, active prompt adjustments for those lounges.
func (s *ScorerService) buildPrompt(item *models.Content) (string, error) {
	var lounges []models.Lounge
	err := s.db.
		Joins("JOIN creator_lounges cl ON cl.lounge_id = lounges.id").
		Where("cl.creator_id = ?", item.CreatorID).
		Order("lounges.id asc").
		Find(&lounges).Error
	if err != nil {
		return "", fmt.Errorf("failed to load lounges for prompt: %w", err)
	}
	if len(lounges) == 0 {
		return "", fmt.Errorf("content %d has no lounge memberships", item.ID)
	}

	loungeIDs := make([]uint, 0, len(lounges))
	for _, l := range lounges {
		loungeIDs = append(loungeIDs, l.ID)
	}

	var adjustments []models.PromptAdjustment
	err = s.db.
		Where("lounge_id IN ? AND approved = ? AND active = ?", loungeIDs, true, true).
		Order("id asc").
		Find(&adjustments).Error
	if err != nil {
		return "", fmt.Errorf("failed to load prompt adjustments: %w", err)
	}

	var b strings.Builder
	b.WriteString("Topics:\n")
	for _, lounge := range lounges {
		fmt.Fprintf(&b, "- %s: %s\n", lounge.Name, lounge.ThemeDescription)
	}

	if len(adjustments) > 0 {
		b.WriteString("\nCuration rules:\n")
		for _, adj := range adjustments {
			fmt.Fprintf(&b, "- [%s] %s\n", adj.AdjustmentType, adj.AdjustmentText)
		}
	}

	b.WriteString("\nContent:\n")
	fmt.Fprintf(&b, "Title: %s\n", util.Truncate(item.Title, 300))
	fmt.Fprintf(&b, "Description: %s\n", util.Truncate(item.Description, 2000))
	b.WriteString("\nScore how relevant this content is to the topics above (100 = perfectly on-topic for at least one).")

	return b.String(), nil
}
