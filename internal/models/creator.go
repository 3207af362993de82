package models

import (
	"time"
)

// Creator is a followed content source publishing on one or more platforms.
type Creator struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Profiles []CreatorProfile `gorm:"foreignKey:CreatorID" json:"profiles"`
}

// CreatorProfile is one external profile URL per platform for a creator.
type CreatorProfile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatorID uint      `gorm:"not null;uniqueIndex:idx_creator_platform" json:"creator_id"`
	Platform  string    `gorm:"size:50;not null;uniqueIndex:idx_creator_platform" json:"platform"`
	URL       string    `gorm:"size:2048;not null" json:"url"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CreatorLounge is the many-to-many membership edge between creators and lounges.
// A content item's effective lounge set is its creator's memberships at evaluation time.
type CreatorLounge struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatorID uint      `gorm:"not null;uniqueIndex:idx_creator_lounge" json:"creator_id"`
	LoungeID  uint      `gorm:"not null;uniqueIndex:idx_creator_lounge;index" json:"lounge_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
