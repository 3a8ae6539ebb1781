package models

import (
	"time"
)

// EngagementSnapshot is one measurement sample collected for a published
// post by the analytics worker.
type EngagementSnapshot struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ScheduledPostID string    `gorm:"not null;index;size:36" json:"scheduled_post_id"`
	PlatformPostID  string    `gorm:"size:255" json:"platform_post_id"`
	Likes           int64     `gorm:"default:0" json:"likes"`
	Comments        int64     `gorm:"default:0" json:"comments"`
	Shares          int64     `gorm:"default:0" json:"shares"`
	Impressions     int64     `gorm:"default:0" json:"impressions"`
	CollectedAt     time.Time `gorm:"not null;index" json:"collected_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
