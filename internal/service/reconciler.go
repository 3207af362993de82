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
	"github.com/loungehq/curator/internal/service/brightdata"
)

// Poll backoff bounds for vendor job status checks. The delay doubles per
// check, tracked on the snapshot row so it survives restarts.
const (
	initialPollDelay = 30 * time.Second
	maxPollDelay     = 30 * time.Minute
)

// ReconcilerService drives pending vendor snapshots to a terminal state:
// polls status, downloads ready results, normalizes and upserts content rows.
// Safe to re-run at any time; all writes are keyed by natural identity.
type ReconcilerService struct {
	db     *gorm.DB
	vendor CollectionVendor
	stats  *StatsService
	logger *zap.Logger
}

func NewReconcilerService(db *gorm.DB, vendor CollectionVendor, stats *StatsService, logger *zap.Logger) *ReconcilerService {
	return &ReconcilerService{
		db:     db,
		vendor: vendor,
		stats:  stats,
		logger: logger,
	}
}

// ReconcilePending advances every non-terminal snapshot that is due for a
// check. Vendor errors land on the snapshot row, never on the caller; the
// returned summary carries the counts.
func (s *ReconcilerService) ReconcilePending(ctx context.Context) Summary {
	startedAt := time.Now()
	var summary Summary

	var snapshots []models.BrightDataSnapshot
	err := s.db.
		Where("status IN ?", []string{models.SnapshotStatusPending, models.SnapshotStatusRunning, models.SnapshotStatusReady}).
		Where("next_check_at IS NULL OR next_check_at <= ?", time.Now()).
		Order("created_at asc").
		Find(&snapshots).Error
	if err != nil {
		s.logger.Error("Failed to load pending snapshots", zap.Error(err))
		summary.Errors++
		return summary
	}

	var due int64
	s.db.Model(&models.BrightDataSnapshot{}).
		Where("status IN ?", []string{models.SnapshotStatusPending, models.SnapshotStatusRunning, models.SnapshotStatusReady}).
		Count(&due)
	summary.Remaining = int(due)

	for _, snapshot := range snapshots {
		if ctx.Err() != nil {
			break
		}

		if err := s.reconcileOne(ctx, &snapshot); err != nil {
			summary.Errors++
			s.stats.RecordError("ERROR", "reconciler", err.Error(), WithSnapshot(snapshot.SnapshotID))
			s.logger.Error("Failed to reconcile snapshot",
				zap.String("snapshot_id", snapshot.SnapshotID),
				zap.Error(err))
			continue
		}
		summary.Processed++
	}

	summary.Remaining -= summary.Processed
	if summary.Remaining < 0 {
		summary.Remaining = 0
	}

	s.stats.RecordRun("reconcile", startedAt, summary)
	return summary
}

func (s *ReconcilerService) reconcileOne(ctx context.Context, snapshot *models.BrightDataSnapshot) error {
	// Locally ready snapshots skip the status poll; a previous run already saw
	// the vendor finish but failed during result mapping.
	status := snapshot.Status
	if status != models.SnapshotStatusReady {
		var err error
		status, err = s.vendor.GetStatus(ctx, snapshot.SnapshotID)
		if err != nil {
			if errors.Is(err, brightdata.ErrSnapshotNotFound) {
				return s.markFailed(snapshot, "snapshot expired or unknown to vendor")
			}
			// Transient vendor error; back off and let the next run retry.
			s.deferCheck(snapshot, models.SnapshotStatusRunning)
			return fmt.Errorf("failed to query vendor status: %w", err)
		}
	}

	switch status {
	case brightdata.JobStatusPending, brightdata.JobStatusRunning:
		s.deferCheck(snapshot, models.SnapshotStatusRunning)
		return nil
	case brightdata.JobStatusFailed:
		return s.markFailed(snapshot, "vendor reported job failure")
	case brightdata.JobStatusReady:
		return s.processReady(ctx, snapshot)
	default:
		s.deferCheck(snapshot, snapshot.Status)
		return fmt.Errorf("unexpected vendor status %q", status)
	}
}

// processReady downloads and ingests a ready snapshot. The snapshot is marked
// processed only when every record mapped cleanly; otherwise it stays ready so
// the whole download is retried, relying on upsert idempotency.
func (s *ReconcilerService) processReady(ctx context.Context, snapshot *models.BrightDataSnapshot) error {
	records, err := s.vendor.FetchResult(ctx, snapshot.SnapshotID)
	if err != nil {
		if errors.Is(err, brightdata.ErrSnapshotNotFound) {
			return s.markFailed(snapshot, "snapshot result expired before download")
		}
		s.deferCheck(snapshot, models.SnapshotStatusReady)
		return fmt.Errorf("failed to download snapshot result: %w", err)
	}

	mapErrors := 0
	upserted := 0
	for _, record := range records {
		post, err := brightdata.Normalize(record)
		if err != nil {
			mapErrors++
			s.logger.Warn("Failed to normalize vendor record",
				zap.String("snapshot_id", snapshot.SnapshotID),
				zap.String("platform", record.Platform),
				zap.Error(err))
			continue
		}

		creatorID, err := s.resolveCreator(post)
		if err != nil {
			mapErrors++
			s.logger.Warn("Failed to attribute vendor record to a creator",
				zap.String("snapshot_id", snapshot.SnapshotID),
				zap.String("profile_url", post.ProfileURL),
				zap.Error(err))
			continue
		}

		if err := s.upsertContent(post, creatorID); err != nil {
			mapErrors++
			s.logger.Error("Failed to upsert content",
				zap.String("snapshot_id", snapshot.SnapshotID),
				zap.String("platform_content_id", post.PlatformContentID),
				zap.Error(err))
			continue
		}
		upserted++
	}

	if mapErrors > 0 {
		s.deferCheck(snapshot, models.SnapshotStatusReady)
		s.db.Model(snapshot).Update("last_error",
			fmt.Sprintf("%d of %d records failed to map", mapErrors, len(records)))
		return fmt.Errorf("%d of %d records failed to map, snapshot left for retry", mapErrors, len(records))
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":          models.SnapshotStatusProcessed,
		"posts_retrieved": upserted,
		"processed_at":    &now,
		"next_check_at":   nil,
		"last_error":      "",
	}
	// processed_at is set exactly once; a concurrent or repeated run must not reset it.
	err = s.db.Model(&models.BrightDataSnapshot{}).
		Where("snapshot_id = ? AND status <> ?", snapshot.SnapshotID, models.SnapshotStatusProcessed).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to mark snapshot processed: %w", err)
	}

	s.logger.Info("Snapshot processed",
		zap.String("snapshot_id", snapshot.SnapshotID),
		zap.Int("posts_retrieved", upserted))

	return nil
}

// resolveCreator maps the vendor-echoed profile URL back to a creator.
func (s *ReconcilerService) resolveCreator(post *brightdata.Post) (uint, error) {
	if post.ProfileURL == "" {
		return 0, fmt.Errorf("record carries no profile URL")
	}

	var profile models.CreatorProfile
	err := s.db.Where("url = ?", post.ProfileURL).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("no creator profile for %s", post.ProfileURL)
		}
		return 0, fmt.Errorf("failed to look up creator profile: %w", err)
	}

	return profile.CreatorID, nil
}

// upsertContent inserts or refreshes a content row by its identity triple.
// Score fields and processing status are never touched on conflict, so
// re-ingesting a scored item does not reset its lifecycle.
func (s *ReconcilerService) upsertContent(post *brightdata.Post, creatorID uint) error {
	content := models.Content{
		Platform:          post.Platform,
		PlatformContentID: post.PlatformContentID,
		CreatorID:         creatorID,
		Title:             post.Title,
		Description:       post.Description,
		URL:               post.URL,
		MediaURLs:         post.MediaURLs,
		PublishedAt:       post.PublishedAt,
		ProcessingStatus:  models.ProcessingStatusProcessed,
	}

	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "platform"},
			{Name: "platform_content_id"},
			{Name: "creator_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "url", "media_urls", "published_at", "updated_at",
		}),
	}).Create(&content).Error
}

// RecoverOrphans adopts vendor-side snapshots that never made it into the
// local store, e.g. after a crash between vendor submission and local insert.
// Adopted snapshots are reconciled by the next ReconcilePending run.
func (s *ReconcilerService) RecoverOrphans(ctx context.Context) Summary {
	startedAt := time.Now()
	var summary Summary

	remotes, err := s.vendor.ListSnapshots(ctx)
	if err != nil {
		s.logger.Error("Failed to list vendor snapshots", zap.Error(err))
		summary.Errors++
		s.stats.RecordRun("recover", startedAt, summary)
		return summary
	}

	now := time.Now()
	for _, remote := range remotes {
		var existing models.BrightDataSnapshot
		err := s.db.Where("snapshot_id = ?", remote.ID).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			summary.Errors++
			s.logger.Error("Failed to check local snapshot",
				zap.String("snapshot_id", remote.ID),
				zap.Error(err))
			continue
		}

		status := models.SnapshotStatusPending
		switch remote.Status {
		case brightdata.JobStatusReady:
			status = models.SnapshotStatusReady
		case brightdata.JobStatusFailed:
			status = models.SnapshotStatusFailed
		}

		snapshot := &models.BrightDataSnapshot{
			SnapshotID:  remote.ID,
			Status:      status,
			NextCheckAt: &now,
			LastError:   "",
		}
		// Conditional insert keyed by snapshot_id; a concurrent adopter wins quietly.
		err = s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "snapshot_id"}},
			DoNothing: true,
		}).Create(snapshot).Error
		if err != nil {
			summary.Errors++
			s.logger.Error("Failed to adopt orphan snapshot",
				zap.String("snapshot_id", remote.ID),
				zap.Error(err))
			continue
		}

		summary.Processed++
		s.logger.Info("Adopted orphan vendor snapshot",
			zap.String("snapshot_id", remote.ID),
			zap.String("status", status))
	}

	s.stats.RecordRun("recover", startedAt, summary)
	return summary
}

// deferCheck applies exponential backoff before the next poll attempt.
func (s *ReconcilerService) deferCheck(snapshot *models.BrightDataSnapshot, status string) {
	delay := initialPollDelay << uint(snapshot.CheckCount)
	if delay > maxPollDelay || delay <= 0 {
		delay = maxPollDelay
	}
	nextCheck := time.Now().Add(delay)

	err := s.db.Model(&models.BrightDataSnapshot{}).
		Where("snapshot_id = ?", snapshot.SnapshotID).
		Updates(map[string]interface{}{
			"status":        status,
			"check_count":   gorm.Expr("check_count + 1"),
			"next_check_at": &nextCheck,
		}).Error
	if err != nil {
		s.logger.Error("Failed to defer snapshot check",
			zap.String("snapshot_id", snapshot.SnapshotID),
			zap.Error(err))
	}
}

func (s *ReconcilerService) markFailed(snapshot *models.BrightDataSnapshot, reason string) error {
	err := s.db.Model(&models.BrightDataSnapshot{}).
		Where("snapshot_id = ?", snapshot.SnapshotID).
		Updates(map[string]interface{}{
			"status":        models.SnapshotStatusFailed,
			"last_error":    reason,
			"next_check_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark snapshot failed: %w", err)
	}

	s.logger.Warn("Snapshot failed, left for manual recovery",
		zap.String("snapshot_id", snapshot.SnapshotID),
		zap.String("reason", reason))
	return nil
}
