package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loungehq/curator/internal/models"
)

// DefaultDigestMaxItems bounds a digest when the caller passes no limit.
const DefaultDigestMaxItems = 10

// platformCap is how many items one platform may contribute during the
// diversification phase.
const platformCap = 2

// DigestService selects a bounded, platform-diversified set of live, passing
// content for a lounge's digest. Selection is deterministic for a given input
// snapshot: published_at descending, content ID ascending on ties.
type DigestService struct {
	db     *gorm.DB
	stats  *StatsService
	logger *zap.Logger
}

func NewDigestService(db *gorm.DB, stats *StatsService, logger *zap.Logger) *DigestService {
	return &DigestService{
		db:     db,
		stats:  stats,
		logger: logger,
	}
}

// SelectForDigest returns at most maxItems content items for the lounge,
// published within the trailing window. Unscored, suppressed, and
// below-threshold items never qualify. Phase 1 takes up to two most-recent
// items per platform; phase 2 fills the remainder by recency.
func (s *DigestService) SelectForDigest(ctx context.Context, loungeID uint, windowHours, maxItems int) ([]models.Content, error) {
	var lounge models.Lounge
	if err := s.db.WithContext(ctx).First(&lounge, loungeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoungeNotFound
		}
		return nil, fmt.Errorf("failed to load lounge: %w", err)
	}

	if maxItems <= 0 {
		maxItems = DefaultDigestMaxItems
	}
	if windowHours <= 0 {
		windowHours = 24
	}
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	var candidates []models.Content
	err := s.db.WithContext(ctx).
		Joins("JOIN creator_lounges cl ON cl.creator_id = contents.creator_id").
		Where("cl.lounge_id = ?", loungeID).
		Where("contents.processing_status = ?", models.ProcessingStatusProcessed).
		Where("contents.relevancy_score IS NOT NULL").
		Where("contents.relevancy_score >= ? OR contents.manually_approved = ?", lounge.RelevancyThreshold, true).
		Where("contents.published_at IS NOT NULL AND contents.published_at >= ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM deleted_contents dc WHERE dc.platform = contents.platform AND dc.platform_content_id = contents.platform_content_id AND dc.creator_id = contents.creator_id)").
		Order("contents.published_at desc, contents.id asc").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load digest candidates: %w", err)
	}

	selected := diversify(candidates, maxItems)

	s.logger.Info("Digest selected",
		zap.Uint("lounge_id", loungeID),
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(selected)))

	return selected, nil
}

// DispatchAll builds the digest for every lounge on the schedule. Delivery to
// members is an external notifier's job; the run records what each lounge
// would receive so operators can audit selection.
func (s *DigestService) DispatchAll(ctx context.Context, windowHours, maxItems int) Summary {
	startedAt := time.Now()
	var summary Summary

	var lounges []models.Lounge
	if err := s.db.WithContext(ctx).Find(&lounges).Error; err != nil {
		s.logger.Error("Failed to load lounges for digest dispatch", zap.Error(err))
		summary.Errors++
		return summary
	}

	for _, lounge := range lounges {
		if ctx.Err() != nil {
			break
		}

		items, err := s.SelectForDigest(ctx, lounge.ID, windowHours, maxItems)
		if err != nil {
			summary.Errors++
			s.stats.RecordError("ERROR", "digest", err.Error())
			continue
		}

		summary.Processed++
		s.logger.Info("Digest built",
			zap.Uint("lounge_id", lounge.ID),
			zap.String("lounge", lounge.Name),
			zap.Int("items", len(items)))
	}

	s.stats.RecordRun("digest", startedAt, summary)
	return summary
}

// diversify applies the two-phase selection over candidates already ordered
// by recency (published_at desc, id asc).
func diversify(candidates []models.Content, maxItems int) []models.Content {
	selected := make([]models.Content, 0, maxItems)
	picked := make(map[uint]bool, maxItems)

	// Phase 1: up to platformCap most-recent items per platform.
	perPlatform := make(map[string]int)
	for _, c := range candidates {
		if len(selected) >= maxItems {
			break
		}
		if perPlatform[c.Platform] >= platformCap {
			continue
		}
		perPlatform[c.Platform]++
		picked[c.ID] = true
		selected = append(selected, c)
	}

	// Phase 2: fill remaining slots by recency, any platform.
	for _, c := range candidates {
		if len(selected) >= maxItems {
			break
		}
		if picked[c.ID] {
			continue
		}
		picked[c.ID] = true
		selected = append(selected, c)
	}

	// Present the digest itself newest-first regardless of selection phase.
	sort.SliceStable(selected, func(i, j int) bool {
		pi, pj := selected[i].PublishedAt, selected[j].PublishedAt
		if pi != nil && pj != nil && !pi.Equal(*pj) {
			return pi.After(*pj)
		}
		return selected[i].ID < selected[j].ID
	})

	return selected
}
