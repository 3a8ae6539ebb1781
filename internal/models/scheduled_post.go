package models

import (
	"time"
)

// PostStatus is the lifecycle state of a ScheduledPost.
type PostStatus string

const (
	PostStatusScheduled  PostStatus = "scheduled"
	PostStatusPublishing PostStatus = "publishing"
	PostStatusPublished  PostStatus = "published"
	PostStatusRetrying   PostStatus = "retrying"
	PostStatusFailed     PostStatus = "failed"
	PostStatusCancelled  PostStatus = "cancelled"
)

// AllPostStatuses lists every lifecycle state, used for per-state counts.
var AllPostStatuses = []PostStatus{
	PostStatusScheduled,
	PostStatusPublishing,
	PostStatusPublished,
	PostStatusRetrying,
	PostStatusFailed,
	PostStatusCancelled,
}

// Terminal reports whether the state is absorbing.
func (s PostStatus) Terminal() bool {
	switch s {
	case PostStatusPublished, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s PostStatus) CanTransitionTo(next PostStatus) bool {
	switch s {
	case PostStatusScheduled:
		return next == PostStatusPublishing || next == PostStatusCancelled
	case PostStatusPublishing:
		return next == PostStatusPublished || next == PostStatusRetrying || next == PostStatusFailed
	case PostStatusRetrying:
		return next == PostStatusPublishing || next == PostStatusCancelled
	}
	return false
}

// ScheduledPost is the durable record for one publish intent and its
// execution history. It is only ever status-transitioned, never deleted,
// by normal operation.
type ScheduledPost struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID  string     `gorm:"not null;index;size:64" json:"organization_id"`
	ContentPieceID  string     `gorm:"not null;index;size:64" json:"content_piece_id"`
	SocialAccountID string     `gorm:"not null;index;size:64" json:"social_account_id"`
	ScheduledAt     time.Time  `gorm:"not null;index" json:"scheduled_at"`
	Status          PostStatus `gorm:"size:20;not null;index" json:"status"`
	IdempotencyKey  string     `gorm:"uniqueIndex;not null;size:191" json:"idempotency_key"`
	AttemptCount    int        `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts     int        `gorm:"not null;default:3" json:"max_attempts"`
	LastAttemptAt   *time.Time `json:"last_attempt_at"`
	PublishedAt     *time.Time `json:"published_at"`
	PlatformPostID  string     `gorm:"size:255" json:"platform_post_id"`
	PlatformURL     string     `gorm:"size:512" json:"platform_url"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
