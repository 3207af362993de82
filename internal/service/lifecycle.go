package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loungehq/curator/internal/models"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrLoungeNotFound  = errors.New("lounge not found")
)

// RestoredScore is the sentinel written when a human restores an item.
const RestoredScore = 100

// LifecycleService decides keep vs. suppress for scored content and handles
// human restoration. Suppression state is the presence of a DeletedContent
// tombstone, keyed by content identity; restore-by-delete is symmetric.
type LifecycleService struct {
	db     *gorm.DB
	stats  *StatsService
	logger *zap.Logger
}

func NewLifecycleService(db *gorm.DB, stats *StatsService, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{
		db:     db,
		stats:  stats,
		logger: logger,
	}
}

// ApplyScore re-arbitrates one content item against every lounge its creator
// belongs to. The item is suppressed iff it has at least one membership and
// its score falls below every member lounge's threshold; passing any single
// lounge keeps it live system-wide. Score equal to threshold passes. Items
// that pass again after suppression are automatically restored.
func (s *LifecycleService) ApplyScore(ctx context.Context, contentID uint) error {
	var content models.Content
	if err := s.db.WithContext(ctx).First(&content, contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContentNotFound
		}
		return fmt.Errorf("failed to load content: %w", err)
	}

	if content.ManuallyApproved {
		return s.removeTombstone(ctx, &content)
	}
	if content.RelevancyScore == nil {
		// Unscored content stays pending; nothing to arbitrate.
		return nil
	}

	var lounges []models.Lounge
	err := s.db.WithContext(ctx).
		Joins("JOIN creator_lounges cl ON cl.lounge_id = lounges.id").
		Where("cl.creator_id = ?", content.CreatorID).
		Find(&lounges).Error
	if err != nil {
		return fmt.Errorf("failed to load creator lounges: %w", err)
	}

	if len(lounges) == 0 {
		return nil
	}

	passes := false
	for _, lounge := range lounges {
		if *content.RelevancyScore >= lounge.RelevancyThreshold {
			passes = true
			break
		}
	}

	if passes {
		return s.removeTombstone(ctx, &content)
	}
	return s.suppress(ctx, &content)
}

func (s *LifecycleService) suppress(ctx context.Context, content *models.Content) error {
	tombstone := models.DeletedContent{
		PlatformContentID: content.PlatformContentID,
		Platform:          content.Platform,
		CreatorID:         content.CreatorID,
		Reason:            models.DeletionReasonLowRelevancy,
	}

	// Conditional insert: a duplicate arbitration run leaves the original marker.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "platform_content_id"},
			{Name: "platform"},
			{Name: "creator_id"},
		},
		DoNothing: true,
	}).Create(&tombstone).Error
	if err != nil {
		return fmt.Errorf("failed to suppress content: %w", err)
	}

	s.logger.Info("Content suppressed",
		zap.Uint("content_id", content.ID),
		zap.String("platform", content.Platform),
		zap.Intp("score", content.RelevancyScore))
	return nil
}

func (s *LifecycleService) removeTombstone(ctx context.Context, content *models.Content) error {
	result := s.db.WithContext(ctx).
		Where("platform_content_id = ? AND platform = ? AND creator_id = ?",
			content.PlatformContentID, content.Platform, content.CreatorID).
		Delete(&models.DeletedContent{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove suppression marker: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("Content restored automatically",
			zap.Uint("content_id", content.ID),
			zap.Intp("score", content.RelevancyScore))
	}
	return nil
}

// Restore is the human override: it removes the suppression marker, pins the
// item with the sentinel score and a permanent approval flag, and records
// exactly one correction snapshotting the pre-restoration state. Restoring
// already-live content is an idempotent no-op.
func (s *LifecycleService) Restore(ctx context.Context, contentID, loungeID uint, actingUser string) error {
	var content models.Content
	err := s.db.WithContext(ctx).Preload("Creator").First(&content, contentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContentNotFound
		}
		return fmt.Errorf("failed to load content: %w", err)
	}

	var lounge models.Lounge
	if err := s.db.WithContext(ctx).First(&lounge, loungeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLoungeNotFound
		}
		return fmt.Errorf("failed to load lounge: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("platform_content_id = ? AND platform = ? AND creator_id = ?",
				content.PlatformContentID, content.Platform, content.CreatorID).
			Delete(&models.DeletedContent{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove suppression marker: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Already live; no marker removed, no correction recorded.
			return nil
		}

		correction := models.RelevancyCorrection{
			ContentID:      content.ID,
			LoungeID:       lounge.ID,
			Platform:       content.Platform,
			Title:          content.Title,
			Description:    content.Description,
			URL:            content.URL,
			CreatorName:    content.Creator.Name,
			OriginalScore:  content.RelevancyScore,
			OriginalReason: content.RelevancyReason,
			RestoredBy:     actingUser,
		}
		if err := tx.Create(&correction).Error; err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}

		now := time.Now()
		err := tx.Model(&models.Content{}).
			Where("id = ?", content.ID).
			Updates(map[string]interface{}{
				"relevancy_score":      RestoredScore,
				"relevancy_reason":     fmt.Sprintf("manually restored by %s", actingUser),
				"relevancy_checked_at": &now,
				"manually_approved":    true,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to pin restored content: %w", err)
		}

		s.logger.Info("Content restored by curator",
			zap.Uint("content_id", content.ID),
			zap.Uint("lounge_id", lounge.ID),
			zap.String("restored_by", actingUser))
		return nil
	})
}

// ReevaluateRecent re-runs arbitration over recently scored content, picking
// up threshold changes without waiting for a rescore.
func (s *LifecycleService) ReevaluateRecent(ctx context.Context, window time.Duration) Summary {
	startedAt := time.Now()
	var summary Summary

	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Content{}).
		Where("relevancy_checked_at >= ?", time.Now().Add(-window)).
		Pluck("id", &ids).Error
	if err != nil {
		s.logger.Error("Failed to load content for re-evaluation", zap.Error(err))
		summary.Errors++
		return summary
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := s.ApplyScore(ctx, id); err != nil {
			summary.Errors++
			s.stats.RecordError("ERROR", "lifecycle", err.Error(), WithContent(id))
			continue
		}
		summary.Processed++
	}

	s.stats.RecordRun("reevaluate", startedAt, summary)
	return summary
}
