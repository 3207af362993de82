package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loungehq/curator/internal/models"
)

func newScorer(t *testing.T, cls Classifier) *ScorerService {
	t.Helper()
	db, stats, logger := newTestServices(t)
	lifecycle := NewLifecycleService(db, stats, logger)
	return NewScorerService(db, cls, lifecycle, stats, logger)
}

func TestScoreBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("writes classifier verdict and arbitrates", func(t *testing.T) {
		cls := &fakeClassifier{
			fn: func(_, _ string) (string, error) {
				return `{"score": 82, "reason": "deep dive on build tooling"}`, nil
			},
		}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)
		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			Title:             "Why our CI got 10x faster",
		})

		summary := svc.ScoreBatch(ctx, 10)
		assert.Equal(t, 1, summary.Processed)
		assert.Zero(t, summary.Errors)

		var scored models.Content
		require.NoError(t, db.First(&scored, content.ID).Error)
		require.NotNil(t, scored.RelevancyScore)
		assert.Equal(t, 82, *scored.RelevancyScore)
		assert.Equal(t, "deep dive on build tooling", scored.RelevancyReason)
		assert.NotNil(t, scored.RelevancyCheckedAt)

		var tombstones int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&tombstones).Error)
		assert.Zero(t, tombstones)
	})

	t.Run("failing score suppresses the item", func(t *testing.T) {
		cls := &fakeClassifier{
			fn: func(_, _ string) (string, error) {
				return `{"score": 12, "reason": "vacation photos"}`, nil
			},
		}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)
		seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
		})

		svc.ScoreBatch(ctx, 10)

		var tombstones int64
		require.NoError(t, db.Model(&models.DeletedContent{}).Count(&tombstones).Error)
		assert.EqualValues(t, 1, tombstones)
	})

	t.Run("classifier error falls back to the default score", func(t *testing.T) {
		cls := &fakeClassifier{
			fn: func(_, _ string) (string, error) {
				return "", fmt.Errorf("upstream timeout")
			},
		}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)
		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
		})

		summary := svc.ScoreBatch(ctx, 10)
		assert.Equal(t, 1, summary.Processed)

		var scored models.Content
		require.NoError(t, db.First(&scored, content.ID).Error)
		require.NotNil(t, scored.RelevancyScore)
		assert.Equal(t, DefaultScore, *scored.RelevancyScore)
		assert.NotNil(t, scored.RelevancyCheckedAt)
	})

	t.Run("malformed output falls back to the default score", func(t *testing.T) {
		cls := &fakeClassifier{
			fn: func(_, _ string) (string, error) {
				return "I'd rate this about a 7 out of 10, maybe?", nil
			},
		}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)
		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
		})

		svc.ScoreBatch(ctx, 10)

		var scored models.Content
		require.NoError(t, db.First(&scored, content.ID).Error)
		require.NotNil(t, scored.RelevancyScore)
		assert.Equal(t, DefaultScore, *scored.RelevancyScore)
	})

	t.Run("code-fenced JSON is accepted", func(t *testing.T) {
		cls := &fakeClassifier{
			fn: func(_, _ string) (string, error) {
				return "```json\n{\"score\": 91, \"reason\": \"spot on\"}\n```", nil
			},
		}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)
		content := seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
		})

		svc.ScoreBatch(ctx, 10)

		var scored models.Content
		require.NoError(t, db.First(&scored, content.ID).Error)
		require.NotNil(t, scored.RelevancyScore)
		assert.Equal(t, 91, *scored.RelevancyScore)
	})

	t.Run("skips already scored, approved and orphaned content", func(t *testing.T) {
		cls := &fakeClassifier{}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)

		seedContent(t, db, &models.Content{
			Platform:           "twitter",
			PlatformContentID:  "already-scored",
			CreatorID:          creator.ID,
			RelevancyScore:     intp(70),
			RelevancyCheckedAt: timep(time.Now()),
		})
		seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "approved",
			CreatorID:         creator.ID,
			ManuallyApproved:  true,
		})

		// Creator without lounge memberships; scoring has no prompt to build.
		loner := seedCreator(t, db, "Bob", "twitter", "https://twitter.com/bob")
		seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "orphan",
			CreatorID:         loner.ID,
		})

		summary := svc.ScoreBatch(ctx, 10)
		assert.Zero(t, summary.Processed)
		assert.Empty(t, cls.prompts)
	})

	t.Run("prompt carries every member lounge theme and active adjustments", func(t *testing.T) {
		cls := &fakeClassifier{}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		devtools := seedLounge(t, db, "devtools", 60)
		gamedev := seedLounge(t, db, "gamedev", 50)
		joinLounge(t, db, creator.ID, devtools.ID)
		joinLounge(t, db, creator.ID, gamedev.ID)

		require.NoError(t, db.Create(&models.PromptAdjustment{
			LoungeID:       devtools.ID,
			AdjustmentType: models.AdjustmentTypeKeep,
			AdjustmentText: "posts about compilers are always relevant",
			Approved:       true,
			Active:         true,
		}).Error)
		require.NoError(t, db.Create(&models.PromptAdjustment{
			LoungeID:       devtools.ID,
			AdjustmentType: models.AdjustmentTypeFilter,
			AdjustmentText: "pending suggestion, not yet approved",
			Approved:       false,
			Active:         false,
		}).Error)

		seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
			Title:             "Building a toy compiler",
		})

		svc.ScoreBatch(ctx, 10)

		require.Len(t, cls.prompts, 1)
		prompt := cls.prompts[0]
		assert.Contains(t, prompt, "devtools")
		assert.Contains(t, prompt, "gamedev")
		assert.Contains(t, prompt, "compilers are always relevant")
		assert.NotContains(t, prompt, "not yet approved")
	})

	t.Run("one bad item never fails the batch", func(t *testing.T) {
		calls := 0
		cls := &fakeClassifier{
			fn: func(_, _ string) (string, error) {
				calls++
				if calls == 1 {
					return "", fmt.Errorf("flaky upstream")
				}
				return `{"score": 88, "reason": "great"}`, nil
			},
		}
		svc := newScorer(t, cls)
		db := svc.db

		creator := seedCreator(t, db, "Alice", "twitter", "https://twitter.com/alice")
		lounge := seedLounge(t, db, "devtools", 60)
		joinLounge(t, db, creator.ID, lounge.ID)
		seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-1",
			CreatorID:         creator.ID,
		})
		seedContent(t, db, &models.Content{
			Platform:          "twitter",
			PlatformContentID: "tw-2",
			CreatorID:         creator.ID,
		})

		summary := svc.ScoreBatch(ctx, 10)
		assert.Equal(t, 2, summary.Processed)
		assert.Zero(t, summary.Errors)

		var scored int64
		require.NoError(t, db.Model(&models.Content{}).
			Where("relevancy_checked_at IS NOT NULL").
			Count(&scored).Error)
		assert.EqualValues(t, 2, scored)
	})
}
