package models

import (
	"time"
)

// PipelineRun is a per-invocation summary of a pipeline operation
// (reconcile, score, analyze, recover). Schedulers and handlers read the
// counts instead of treating individual item failures as fatal.
type PipelineRun struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Operation  string    `gorm:"size:50;not null;index" json:"operation"`
	Processed  int       `gorm:"default:0" json:"processed"`
	Errors     int       `gorm:"default:0" json:"errors"`
	Remaining  int       `gorm:"default:0" json:"remaining"`
	DurationMS int64     `gorm:"default:0" json:"duration_ms"`
	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// ErrorLog records an isolated per-item or per-lounge failure for later review.
type ErrorLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Level      string    `gorm:"size:20;not null;index" json:"level"`
	Source     string    `gorm:"size:100;not null;index" json:"source"`
	Platform   string    `gorm:"size:50;index" json:"platform"`
	ContentID  *uint     `gorm:"index" json:"content_id"`
	SnapshotID string    `gorm:"size:255;index" json:"snapshot_id"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	Resolved   bool      `gorm:"default:false;index" json:"resolved"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
