package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loungehq/curator/internal/models"
)

func TestApplyScore(t *testing.T) {
	ctx := context.Background()

	t.Run("suppresses content below every threshold", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(59),
		})

		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var tombstones []models.DeletedContent
		require.NoError(t, db.Find(&tombstones).Error)
		require.Len(t, tombstones, 1)
		assert.Equal(t, "tw-1", tombstones[0].PlatformContentID)
		assert.Equal(t, models.DeletionReasonLowRelevancy, tombstones[0].Reason)
		assert.Nil(t, tombstones[0].DeletedBy)
	})

	t.Run("score equal to threshold stays live", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(60),
		})

		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("passing any member lounge keeps content live", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		strict := seedLounge(t, db, "strict", 60)
		lenient := seedLounge(t, db, "lenient", 40)
		joinLounge(t, db, creator.ID, strict.ID)
		joinLounge(t, db, creator.ID, lenient.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(55),
		})

		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("no memberships means no arbitration", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(5),
		})

		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("repeated suppression keeps a single tombstone", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(10),
		})

		require.NoError(t, svc.ApplyScore(ctx, content.ID))
		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})

	t.Run("raised score restores suppressed content", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(10),
		})
		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		require.NoError(t, db.Model(content).Update("relevancy_score", 90).Error)
		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("manually approved content is never suppressed", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(5),
			ManuallyApproved:  true,
		})

		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("cancelled context aborts before any write", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(10),
		})

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		require.Error(t, svc.ApplyScore(cancelled, content.ID))

		var count int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("unknown content returns sentinel error", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		err := svc.ApplyScore(ctx, 12345)
		assert.ErrorIs(t, err, ErrContentNotFound)
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*LifecycleService, *models.Content, *models.Lounge) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			RelevancyScore:    intp(20),
			RelevancyReason:   "off topic",
		})
		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		return svc, content, lounge
	}

	t.Run("restores suppressed content with correction and sentinel score", func(t *testing.T) {
		svc, content, lounge := setup(t)
		db := svc.db

		require.NoError(t, svc.Restore(ctx, content.ID, lounge.ID, "erin"))

		var tombstones int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&tombstones).Error)
		assert.Zero(t, tombstones)

		var corrections []models.RelevancyCorrection
		require.NoError(t, db.Find(&corrections).Error)
		require.Len(t, corrections, 1)
		assert.Equal(t, content.ID, corrections[0].ContentID)
		assert.Equal(t, lounge.ID, corrections[0].LoungeID)
		assert.Equal(t, "erin", corrections[0].RestoredBy)
		require.NotNil(t, corrections[0].OriginalScore)
		assert.Equal(t, 20, *corrections[0].OriginalScore)
		assert.Equal(t, "off topic", corrections[0].OriginalReason)
		assert.False(t, corrections[0].Processed)

		var updated models.Content
		require.NoError(t, db.First(&updated, content.ID).Error)
		require.NotNil(t, updated.RelevancyScore)
		assert.Equal(t, RestoredScore, *updated.RelevancyScore)
		assert.True(t, updated.ManuallyApproved)
		assert.Contains(t, updated.RelevancyReason, "erin")
	})

	t.Run("restoring live content is a no-op", func(t *testing.T) {
		svc, content, lounge := setup(t)
		db := svc.db

		require.NoError(t, svc.Restore(ctx, content.ID, lounge.ID, "erin"))
		require.NoError(t, svc.Restore(ctx, content.ID, lounge.ID, "frank"))

		var corrections int64
		require.NoError(t, db.Model(&models.RelevancyCorrection{}).Count(&corrections).Error)
		assert.EqualValues(t, 1, corrections)

		// The second call must not rewrite attribution.
		var updated models.Content
		require.NoError(t, db.First(&updated, content.ID).Error)
		assert.Contains(t, updated.RelevancyReason, "erin")
	})

	t.Run("restored content survives the next arbitration", func(t *testing.T) {
		svc, content, lounge := setup(t)
		db := svc.db

		require.NoError(t, svc.Restore(ctx, content.ID, lounge.ID, "erin"))
		require.NoError(t, svc.ApplyScore(ctx, content.ID))

		var tombstones int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&tombstones).Error)
		assert.Zero(t, tombstones)
	})

	t.Run("unknown lounge returns sentinel error", func(t *testing.T) {
		svc, content, _ := setup(t)

		err := svc.Restore(ctx, content.ID, 999, "erin")
		assert.ErrorIs(t, err, ErrLoungeNotFound)
	})

	t.Run("unknown content returns sentinel error", func(t *testing.T) {
		svc, _, lounge := setup(t)

		err := svc.Restore(ctx, 999, lounge.ID, "erin")
		assert.ErrorIs(t, err, ErrContentNotFound)
	})
}

func TestReevaluateRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold change picks up recently scored content", func(t *testing.T) {
		db, stats, logger := newTestServices(t)
		svc := NewLifecycleService(db, stats, logger)

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		seedContent(t, db, &models.Content{
			Platform:           "twitter",
			PlatformContentID:  "tw-1",
			CreatorID:          creator.ID,
			RelevancyScore:     intp(55),
			RelevancyCheckedAt: timep(time.Now().Add(-time.Hour)),
		})

		// Raise the bar; the item now falls below the threshold.
		require.NoError(t, db.Model(&models.Lounge{}).
			Where("id = ?", lounge.ID).
			Update("relevancy_threshold", 70).Error)

		summary := svc.ReevaluateRecent(ctx, 24*time.Hour)
		assert.Equal(t, 1, summary.Processed)
		assert.Zero(t, summary.Errors)

		var tombstones int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&tombstones).Error)
		assert.EqualValues(t, 1, tombstones)
	})
}
