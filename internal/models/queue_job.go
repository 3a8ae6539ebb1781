package models

import (
	"time"
)

// JobStatus is the queue-internal state of a durable job row.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDead      JobStatus = "dead"
)

// QueueJob is one unit of delayed work owned by the durable queue. The
// dedup key keeps at most one live (pending or running) row per logical
// job; completed and dead rows are retained for inspection and purged by
// maintenance.
type QueueJob struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Queue       string     `gorm:"not null;index;size:64" json:"queue"`
	DedupKey    string     `gorm:"not null;index;size:191" json:"dedup_key"`
	Payload     string     `gorm:"type:text" json:"payload"`
	Status      JobStatus  `gorm:"size:20;not null;index" json:"status"`
	RunAt       time.Time  `gorm:"not null;index" json:"run_at"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null;default:3" json:"max_attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	LockedBy    string     `gorm:"size:64" json:"locked_by"`
	LockedAt    *time.Time `json:"locked_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
