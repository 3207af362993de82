package models

import (
	"time"
)

// DefaultRelevancyThreshold is applied to lounges created without an explicit threshold.
const DefaultRelevancyThreshold = 60

// Lounge is a named topic collection. ThemeDescription grounds the scoring prompt;
// RelevancyThreshold is the minimum score to keep an item live in this lounge.
type Lounge struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"uniqueIndex;not null;size:255" json:"name"`
	ThemeDescription   string    `gorm:"type:text" json:"theme_description"`
	RelevancyThreshold int       `gorm:"default:60" json:"relevancy_threshold"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
