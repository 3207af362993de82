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
	// MaxSuggestionsPerLounge caps how many rule suggestions one analysis
	// round may produce for a lounge.
	MaxSuggestionsPerLounge = 3

	analysisSystemPrompt = "You analyze cases where a human curator overruled an automated relevancy filter " +
		"and restored suppressed content. Propose up to 3 concrete rules that would prevent similar mistakes. " +
		"Respond with only a JSON object of the form " +
		"{\"pattern_analysis\": \"<summary>\", \"adjustments\": [{\"type\": \"keep|filter|borderline\", \"text\": \"<rule>\", \"reasoning\": \"<why>\"}]}."
)

// CorrectionService turns batches of human corrections into pending
// prompt-adjustment suggestions, one lounge at a time. Suggestions start
// unapproved and inactive; activation is a separate human step.
type CorrectionService struct {
	db         *gorm.DB
	classifier Classifier
	stats      *StatsService
	logger     *zap.Logger
}

func NewCorrectionService(db *gorm.DB, cls Classifier, stats *StatsService, logger *zap.Logger) *CorrectionService {
	return &CorrectionService{
		db:         db,
		classifier: cls,
		stats:      stats,
		logger:     logger,
	}
}

// AnalyzeRecent groups unprocessed corrections from the trailing window by
// lounge and analyzes each group. One lounge's failure never aborts the rest.
func (s *CorrectionService) AnalyzeRecent(ctx context.Context, window time.Duration) Summary {
	startedAt := time.Now()
	var summary Summary

	var corrections []models.RelevancyCorrection
	err := s.db.WithContext(ctx).
		Where("processed = ? AND created_at >= ?", false, time.Now().Add(-window)).
		Order("lounge_id asc, id asc").
		Find(&corrections).Error
	if err != nil {
		s.logger.Error("Failed to load unprocessed corrections", zap.Error(err))
		summary.Errors++
		return summary
	}

	byLounge := make(map[uint][]models.RelevancyCorrection)
	var order []uint
	for _, c := range corrections {
		if _, seen := byLounge[c.LoungeID]; !seen {
			order = append(order, c.LoungeID)
		}
		byLounge[c.LoungeID] = append(byLounge[c.LoungeID], c)
	}

	for _, loungeID := range order {
		if ctx.Err() != nil {
			break
		}

		if _, err := s.AnalyzeLounge(ctx, loungeID, byLounge[loungeID]); err != nil {
			summary.Errors++
			s.stats.RecordError("ERROR", "corrections", err.Error())
			s.logger.Error("Failed to analyze lounge corrections",
				zap.Uint("lounge_id", loungeID),
				zap.Error(err))
			continue
		}
		summary.Processed++
	}

	summary.Remaining = len(order) - summary.Processed - summary.Errors
	if summary.Remaining < 0 {
		summary.Remaining = 0
	}

	s.stats.RecordRun("analyze", startedAt, summary)
	return summary
}

// AnalyzeLounge submits one lounge's corrections for pattern analysis and
// persists the suggested adjustments, deduplicated against existing ones.
// Corrections are marked processed only after a successful analysis, so a
// failed round is retried whole on the next run.
func (s *CorrectionService) AnalyzeLounge(ctx context.Context, loungeID uint, corrections []models.RelevancyCorrection) ([]models.PromptAdjustment, error) {
	if len(corrections) == 0 {
		return nil, nil
	}

	var lounge models.Lounge
	if err := s.db.WithContext(ctx).First(&lounge, loungeID).Error; err != nil {
		return nil, fmt.Errorf("failed to load lounge %d: %w", loungeID, err)
	}

	raw, err := s.classifier.Classify(ctx, analysisSystemPrompt, s.buildPrompt(&lounge, corrections))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze corrections: %w", err)
	}

	analysis, ok := classifier.ParseAnalysis(raw)
	if !ok {
		return nil, fmt.Errorf("classifier returned malformed analysis: %s", util.Truncate(raw, 200))
	}

	suggestions := analysis.Adjustments
	if len(suggestions) > MaxSuggestionsPerLounge {
		suggestions = suggestions[:MaxSuggestionsPerLounge]
	}

	var created []models.PromptAdjustment
	for _, suggestion := range suggestions {
		text := strings.TrimSpace(suggestion.Text)
		if text == "" {
			continue
		}

		// Idempotent suggestion generation: skip texts this lounge already has.
		var existing int64
		err := s.db.Model(&models.PromptAdjustment{}).
			Where("lounge_id = ? AND adjustment_text = ?", loungeID, text).
			Count(&existing).Error
		if err != nil {
			return created, fmt.Errorf("failed to check existing adjustments: %w", err)
		}
		if existing > 0 {
			continue
		}

		adjustment := models.PromptAdjustment{
			LoungeID:             loungeID,
			AdjustmentType:       normalizeAdjustmentType(suggestion.Type),
			AdjustmentText:       text,
			Reasoning:            suggestion.Reasoning,
			CorrectionsAddressed: len(corrections),
			Approved:             false,
			Active:               false,
		}
		if err := s.db.Create(&adjustment).Error; err != nil {
			return created, fmt.Errorf("failed to persist adjustment: %w", err)
		}
		created = append(created, adjustment)
	}

	now := time.Now()
	ids := make([]uint, 0, len(corrections))
	for _, c := range corrections {
		ids = append(ids, c.ID)
	}
	err = s.db.Model(&models.RelevancyCorrection{}).
		Where("id IN ? AND processed = ?", ids, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
		}).Error
	if err != nil {
		return created, fmt.Errorf("failed to mark corrections processed: %w", err)
	}

	s.logger.Info("Lounge corrections analyzed",
		zap.Uint("lounge_id", loungeID),
		zap.Int("corrections", len(corrections)),
		zap.Int("suggestions", len(created)))

	return created, nil
}

func (s *CorrectionService) buildPrompt(lounge *models.Lounge, corrections []models.RelevancyCorrection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lounge: %s\nTheme: %s\nRelevancy threshold: %d\n\n", lounge.Name, lounge.ThemeDescription, lounge.RelevancyThreshold)
	b.WriteString("Content the filter suppressed but a curator restored:\n")

	for i, c := range corrections {
		fmt.Fprintf(&b, "\n%d. [%s] %s\n", i+1, c.Platform, util.Truncate(c.Title, 200))
		if c.Description != "" {
			fmt.Fprintf(&b, "   %s\n", util.Truncate(c.Description, 500))
		}
		if c.OriginalScore != nil {
			fmt.Fprintf(&b, "   Original score: %d (%s)\n", *c.OriginalScore, util.Truncate(c.OriginalReason, 200))
		}
	}

	return b.String()
}

func normalizeAdjustmentType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case models.AdjustmentTypeKeep:
		return models.AdjustmentTypeKeep
	case models.AdjustmentTypeFilter:
		return models.AdjustmentTypeFilter
	default:
		return models.AdjustmentTypeBorderline
	}
}
