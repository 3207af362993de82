package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loungehq/curator/internal/models"
	"github.com/loungehq/curator/internal/service/brightdata"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Creator{},
		&models.CreatorProfile{},
		&models.Lounge{},
		&models.CreatorLounge{},
		&models.Content{},
		&models.DeletedContent{},
		&models.RelevancyCorrection{},
		&models.PromptAdjustment{},
		&models.BrightDataSnapshot{},
		&models.PipelineRun{},
		&models.ErrorLog{},
	)
	require.NoError(t, err)

	return db
}

func intp(v int) *int { return &v }

func timep(t time.Time) *time.Time { return &t }

func seedCreator(t *testing.T, db *gorm.DB, name, platform, url string) *models.Creator {
	t.Helper()

	creator := &models.Creator{Name: name}
	require.NoError(t, db.Create(creator).Error)
	require.NoError(t, db.Create(&models.CreatorProfile{
		CreatorID: creator.ID,
		Platform:  platform,
		URL:       url,
	}).Error)
	return creator
}

func seedLounge(t *testing.T, db *gorm.DB, name string, threshold int) *models.Lounge {
	t.Helper()

	lounge := &models.Lounge{
		Name:               name,
		ThemeDescription:   fmt.Sprintf("content about %s", name),
		RelevancyThreshold: threshold,
	}
	require.NoError(t, db.Create(lounge).Error)
	return lounge
}

func joinLounge(t *testing.T, db *gorm.DB, creatorID, loungeID uint) {
	t.Helper()
	require.NoError(t, db.Create(&models.CreatorLounge{
		CreatorID: creatorID,
		LoungeID:  loungeID,
	}).Error)
}

func seedContent(t *testing.T, db *gorm.DB, content *models.Content) *models.Content {
	t.Helper()

	if content.ProcessingStatus == "" {
		content.ProcessingStatus = models.ProcessingStatusProcessed
	}
	require.NoError(t, db.Create(content).Error)
	return content
}

// fakeVendor implements CollectionVendor with overridable behavior per call.
type fakeVendor struct {
	submitFn func(urls []string) (string, error)
	statusFn func(snapshotID string) (string, error)
	resultFn func(snapshotID string) ([]brightdata.Record, error)
	listFn   func() ([]brightdata.RemoteSnapshot, error)
}

func (v *fakeVendor) Submit(_ context.Context, urls []string) (string, error) {
	if v.submitFn == nil {
		return "snap-test", nil
	}
	return v.submitFn(urls)
}

func (v *fakeVendor) GetStatus(_ context.Context, snapshotID string) (string, error) {
	if v.statusFn == nil {
		return brightdata.JobStatusReady, nil
	}
	return v.statusFn(snapshotID)
}

func (v *fakeVendor) FetchResult(_ context.Context, snapshotID string) ([]brightdata.Record, error) {
	if v.resultFn == nil {
		return nil, nil
	}
	return v.resultFn(snapshotID)
}

func (v *fakeVendor) ListSnapshots(_ context.Context) ([]brightdata.RemoteSnapshot, error) {
	if v.listFn == nil {
		return nil, nil
	}
	return v.listFn()
}

// fakeClassifier returns canned output, recording every prompt it saw.
type fakeClassifier struct {
	fn      func(systemPrompt, userPrompt string) (string, error)
	prompts []string
}

func (c *fakeClassifier) Classify(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	c.prompts = append(c.prompts, userPrompt)
	if c.fn == nil {
		return `{"score": 75, "reason": "on topic"}`, nil
	}
	return c.fn(systemPrompt, userPrompt)
}

func newTestServices(t *testing.T) (*gorm.DB, *StatsService, *zap.Logger) {
	t.Helper()
	db := setupTestDB(t)
	logger := zap.NewNop()
	return db, NewStatsService(db, logger), logger
}
