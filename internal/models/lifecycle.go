package models

import (
	"time"
)

// Deletion reasons recorded on tombstones.
const (
	DeletionReasonLowRelevancy = "low_relevancy"
)

// DeletedContent is a suppression tombstone mirroring the Content identity triple.
// A content item is live iff no matching row exists; restore removes the marker.
type DeletedContent struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	PlatformContentID string    `gorm:"size:255;not null;uniqueIndex:idx_deleted_identity" json:"platform_content_id"`
	Platform          string    `gorm:"size:50;not null;uniqueIndex:idx_deleted_identity" json:"platform"`
	CreatorID         uint      `gorm:"not null;uniqueIndex:idx_deleted_identity" json:"creator_id"`
	Reason            string    `gorm:"size:100" json:"reason"`
	DeletedBy         *string   `gorm:"size:255" json:"deleted_by"` // nil means automated
	DeletedAt         time.Time `gorm:"autoCreateTime" json:"deleted_at"`
}

// RelevancyCorrection records a human overriding an automated suppression.
// It snapshots the content at restoration time so later edits or rescoring
// cannot distort the training signal. Immutable except for Processed.
type RelevancyCorrection struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ContentID      uint       `gorm:"not null;index" json:"content_id"`
	LoungeID       uint       `gorm:"not null;index" json:"lounge_id"`
	Platform       string     `gorm:"size:50" json:"platform"`
	Title          string     `gorm:"size:500" json:"title"`
	Description    string     `gorm:"type:text" json:"description"`
	URL            string     `gorm:"size:2048" json:"url"`
	CreatorName    string     `gorm:"size:255" json:"creator_name"`
	OriginalScore  *int       `json:"original_score"`
	OriginalReason string     `gorm:"type:text" json:"original_reason"`
	RestoredBy     string     `gorm:"size:255" json:"restored_by"`
	Processed      bool       `gorm:"default:false;index" json:"processed"`
	ProcessedAt    *time.Time `json:"processed_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// Adjustment types suggested by the correction analyzer.
const (
	AdjustmentTypeKeep       = "keep"
	AdjustmentTypeFilter     = "filter"
	AdjustmentTypeBorderline = "borderline"
)

// PromptAdjustment is a suggested scoring-prompt rule derived from a batch of
// corrections for one lounge. Created unapproved and inactive; activation is a
// separate human action.
type PromptAdjustment struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	LoungeID             uint      `gorm:"not null;index" json:"lounge_id"`
	AdjustmentType       string    `gorm:"size:20;not null" json:"adjustment_type"`
	AdjustmentText       string    `gorm:"type:text;not null" json:"adjustment_text"`
	Reasoning            string    `gorm:"type:text" json:"reasoning"`
	CorrectionsAddressed int       `gorm:"default:0" json:"corrections_addressed"`
	Approved             bool      `gorm:"default:false" json:"approved"`
	Active               bool      `gorm:"default:false" json:"active"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
