package models

import (
	"time"
)

// Snapshot lifecycle. Transitions are monotonic:
// pending -> running -> ready -> processed, or any non-terminal state -> failed.
const (
	SnapshotStatusPending   = "pending"
	SnapshotStatusRunning   = "running"
	SnapshotStatusReady     = "ready"
	SnapshotStatusProcessed = "processed"
	SnapshotStatusFailed    = "failed"
)

// BrightDataSnapshot is the durable handle to a vendor-run collection job.
// The vendor executes jobs out-of-band; we only ever poll and download, so the
// row tracks everything needed to resume after a crash: the opaque snapshot ID,
// the requesting URLs, and the poll backoff state.
type BrightDataSnapshot struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	SnapshotID     string      `gorm:"uniqueIndex;not null;size:255" json:"snapshot_id"`
	Status         string      `gorm:"size:20;default:'pending';index" json:"status"`
	CreatorURLs    StringArray `gorm:"type:text[]" json:"creator_urls"`
	PostsRetrieved int         `gorm:"default:0" json:"posts_retrieved"`
	LastError      string      `gorm:"type:text" json:"last_error"`
	CheckCount     int         `gorm:"default:0" json:"check_count"`
	NextCheckAt    *time.Time  `gorm:"index" json:"next_check_at"`
	ProcessedAt    *time.Time  `json:"processed_at"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// Terminal reports whether the snapshot needs no further reconciliation.
func (s *BrightDataSnapshot) Terminal() bool {
	return s.Status == SnapshotStatusProcessed || s.Status == SnapshotStatusFailed
}
