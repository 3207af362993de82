package classifier

import (
	"encoding/json"
	"strings"
)

// ScoreResult is the structured verdict requested from the model for one item.
type ScoreResult struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// AdjustmentSuggestion is one proposed scoring-prompt rule.
type AdjustmentSuggestion struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Reasoning string `json:"reasoning"`
}

// AnalysisResult is the structured output requested for correction analysis.
type AnalysisResult struct {
	PatternAnalysis string                 `json:"pattern_analysis"`
	Adjustments     []AdjustmentSuggestion `json:"adjustments"`
}

// ParseScore extracts a {score, reason} object from raw model output.
// Returns ok=false when no usable object can be recovered; the caller decides
// the fallback policy. Scores are clamped to 0..100.
func ParseScore(raw string) (ScoreResult, bool) {
	var result ScoreResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return ScoreResult{}, false
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}

	return result, true
}

// ParseAnalysis extracts a correction-analysis object from raw model output.
func ParseAnalysis(raw string) (AnalysisResult, bool) {
	var result AnalysisResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return AnalysisResult{}, false
	}
	return result, true
}

// extractJSON tolerates code fences and leading prose around the JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}

	return s
}
