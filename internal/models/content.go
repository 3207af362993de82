package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StringArray represents a PostgreSQL text[] type
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		// Handle PostgreSQL array format: {value1,value2,value3}
		if v == "{}" || v == "" {
			*s = StringArray{}
			return nil
		}

		trimmed := strings.Trim(v, "{}")
		if trimmed == "" {
			*s = StringArray{}
			return nil
		}

		parts := strings.Split(trimmed, ",")
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.Trim(strings.TrimSpace(part), "\"")
		}
		*s = result
		return nil
	case []byte:
		// Try to parse as JSON first
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		// Fallback to string parsing
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		escaped := strings.ReplaceAll(v, "\"", "\\\"")
		quoted[i] = fmt.Sprintf("\"%s\"", escaped)
	}

	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

// Processing status of a content row. Scoring only picks up processed rows.
const (
	ProcessingStatusPending   = "pending"
	ProcessingStatusProcessed = "processed"
	ProcessingStatusError     = "error"
)

// Content is a canonical content item ingested from any platform.
// Identity is the (platform, platform_content_id, creator_id) triple; ingestion
// upserts on it so reprocessing the same vendor record never duplicates a row.
type Content struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Platform          string `gorm:"size:50;not null;uniqueIndex:idx_content_identity" json:"platform"`
	PlatformContentID string `gorm:"size:255;not null;uniqueIndex:idx_content_identity" json:"platform_content_id"`
	CreatorID         uint   `gorm:"not null;uniqueIndex:idx_content_identity;index" json:"creator_id"`

	Title       string      `gorm:"size:500" json:"title"`
	Description string      `gorm:"type:text" json:"description"`
	URL         string      `gorm:"size:2048" json:"url"`
	MediaURLs   StringArray `gorm:"type:text[]" json:"media_urls"`
	PublishedAt *time.Time  `gorm:"index" json:"published_at"`

	ProcessingStatus   string     `gorm:"size:50;default:'pending';index" json:"processing_status"`
	RelevancyScore     *int       `json:"relevancy_score"`
	RelevancyReason    string     `gorm:"type:text" json:"relevancy_reason"`
	RelevancyCheckedAt *time.Time `json:"relevancy_checked_at"`

	// Set on human restoration; approved items are never rescored or re-suppressed.
	ManuallyApproved bool `gorm:"default:false" json:"manually_approved"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Creator Creator `gorm:"foreignKey:CreatorID" json:"creator"`
}
