package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loungehq/curator/internal/models"
)

// CollectorService submits vendor collection jobs for creator profile URLs and
// persists the returned snapshot handle. It never waits for job completion;
// the reconciler picks results up later.
type CollectorService struct {
	db     *gorm.DB
	vendor CollectionVendor
	logger *zap.Logger
}

func NewCollectorService(db *gorm.DB, vendor CollectionVendor, logger *zap.Logger) *CollectorService {
	return &CollectorService{
		db:     db,
		vendor: vendor,
		logger: logger,
	}
}

// StartCollection submits one vendor job for a batch of profile URLs and
// records the snapshot handle. On vendor failure nothing is persisted.
func (s *CollectorService) StartCollection(ctx context.Context, creatorURLs []string) (string, error) {
	if len(creatorURLs) == 0 {
		return "", fmt.Errorf("no creator URLs to collect")
	}

	snapshotID, err := s.vendor.Submit(ctx, creatorURLs)
	if err != nil {
		return "", fmt.Errorf("failed to submit collection job: %w", err)
	}

	nextCheck := time.Now().Add(initialPollDelay)
	snapshot := &models.BrightDataSnapshot{
		SnapshotID:  snapshotID,
		Status:      models.SnapshotStatusPending,
		CreatorURLs: creatorURLs,
		NextCheckAt: &nextCheck,
	}

	if err := s.db.Create(snapshot).Error; err != nil {
		// The vendor job is already running; recovery will adopt the orphan.
		return "", fmt.Errorf("failed to persist snapshot %s: %w", snapshotID, err)
	}

	s.logger.Info("Collection started",
		zap.String("snapshot_id", snapshotID),
		zap.Int("creator_urls", len(creatorURLs)))

	return snapshotID, nil
}

// CollectAllCreators submits a collection job covering the profile URLs of
// every creator that belongs to at least one lounge.
func (s *CollectorService) CollectAllCreators(ctx context.Context) (string, error) {
	var profiles []models.CreatorProfile
	err := s.db.
		Joins("JOIN creator_lounges cl ON cl.creator_id = creator_profiles.creator_id").
		Distinct("creator_profiles.*").
		Find(&profiles).Error
	if err != nil {
		return "", fmt.Errorf("failed to load creator profiles: %w", err)
	}

	urls := make([]string, 0, len(profiles))
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.URL == "" || seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		urls = append(urls, p.URL)
	}

	return s.StartCollection(ctx, urls)
}
