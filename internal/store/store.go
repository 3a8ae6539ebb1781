// Package store owns persistence of scheduling state. The PostStore
// contract gives every mutation guarded single-record semantics so the
// worker's state machine never observes partial transitions.
package store

import (
	"context"
	"errors"
	"time"

	"syndicate/internal/models"
)

var (
	// ErrNotFound reports a missing ScheduledPost.
	ErrNotFound = errors.New("store: scheduled post not found")
	// ErrInvalidTransition reports a guarded update that found the record
	// in a state the requested transition does not allow.
	ErrInvalidTransition = errors.New("store: invalid status transition")
	// ErrDuplicateKey reports a Create that collided with an existing
	// idempotency key.
	ErrDuplicateKey = errors.New("store: duplicate idempotency key")
)

// ListFilter narrows ListScheduledPosts projections.
type ListFilter struct {
	Status          models.PostStatus
	SocialAccountID string
	ContentPieceID  string
	ScheduledAfter  *time.Time
	ScheduledBefore *time.Time
	Limit           int
}

// PublishOutcome carries the success fields recorded on a published post.
type PublishOutcome struct {
	PlatformPostID string
	PlatformURL    string
	PublishedAt    time.Time
}

// PostStore persists ScheduledPost records. Transition methods apply
// atomic read-modify-write guarded on the current status; a guard miss
// returns ErrInvalidTransition without mutating anything.
type PostStore interface {
	// Create persists a new post. It fails with ErrDuplicateKey when the
	// idempotency key is taken or a live post already holds the same
	// account/content intent.
	Create(ctx context.Context, post *models.ScheduledPost) error
	Get(ctx context.Context, id string) (*models.ScheduledPost, error)

	// FindLiveByIntent returns the non-terminal post for an
	// account/content pair, or ErrNotFound. This is what makes a second
	// schedule request for the same logical intent a no-op.
	FindLiveByIntent(ctx context.Context, socialAccountID, contentPieceID string) (*models.ScheduledPost, error)
	// CountByIntent returns how many posts (any state) exist for an
	// account/content pair, used to disambiguate legitimate re-posts.
	CountByIntent(ctx context.Context, socialAccountID, contentPieceID string) (int64, error)

	List(ctx context.Context, organizationID string, filter ListFilter) ([]*models.ScheduledPost, error)
	CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error)

	// ClaimForPublishing moves a scheduled or retrying post to publishing,
	// stamping lastAttemptAt and incrementing attemptCount in the same
	// guarded update. It returns the post as claimed.
	ClaimForPublishing(ctx context.Context, id string, now time.Time) (*models.ScheduledPost, error)
	// RecordSuccess moves publishing -> published and sets the platform
	// result fields, clearing errorMessage.
	RecordSuccess(ctx context.Context, id string, outcome PublishOutcome) error
	// RecordRetry moves publishing -> retrying with the failure reason.
	RecordRetry(ctx context.Context, id string, reason string) error
	// RecordFailure moves publishing -> failed with the failure reason.
	RecordFailure(ctx context.Context, id string, reason string) error
	// Cancel moves scheduled or retrying -> cancelled.
	Cancel(ctx context.Context, id string, reason string) error

	// ExpireStale cancels scheduled posts whose scheduledAt is before the
	// cutoff, returning how many were expired.
	ExpireStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	// FindDueScheduled returns scheduled posts whose scheduledAt is before
	// the given instant, for queue reconciliation.
	FindDueScheduled(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledPost, error)
}

// EngagementStore persists analytics samples for published posts.
type EngagementStore interface {
	SaveSnapshot(ctx context.Context, snapshot *models.EngagementSnapshot) error
	ListSnapshots(ctx context.Context, scheduledPostID string) ([]*models.EngagementSnapshot, error)
}
