// Package scheduler turns validated publish intents into durable
// ScheduledPost records and queue jobs, and exposes the query/cancel
// surface consumed by the API layer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"syndicate/internal/models"
	"syndicate/internal/queue"
	"syndicate/internal/store"
)

const defaultMaxAttempts = 3

// Intent is one validated publish request.
type Intent struct {
	OrganizationID  string
	ContentPieceID  string
	SocialAccountID string
	ScheduledAt     time.Time
}

// CrossPostTarget is one destination of a fan-out request.
type CrossPostTarget struct {
	SocialAccountID string
	ScheduledAt     time.Time
}

// CrossPostFailure reports one destination that could not be scheduled.
type CrossPostFailure struct {
	SocialAccountID string
	Reason          string
}

// CrossPostResult separates the created IDs from the per-destination
// failures; a partial batch is not an error.
type CrossPostResult struct {
	ScheduledPostIDs []string
	Failures         []CrossPostFailure
}

// PublishJobPayload is what travels through the queue: IDs only, never
// content. The worker re-resolves everything at execution time.
type PublishJobPayload struct {
	ScheduledPostID string `json:"scheduled_post_id"`
	OrganizationID  string `json:"organization_id"`
	ContentPieceID  string `json:"content_piece_id"`
	SocialAccountID string `json:"social_account_id"`
	RetryCount      int    `json:"retry_count"`
}

// Scheduler creates exactly one durable record and one enqueued job per
// publish intent. All dependencies are injected; lifecycle of the queue
// and store belongs to the process entry point.
type Scheduler struct {
	store       store.PostStore
	queue       queue.Queue
	logger      *zap.Logger
	maxAttempts int
}

func New(postStore store.PostStore, q queue.Queue, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:       postStore,
		queue:       q,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// SchedulePost persists the intent and enqueues its job. The enqueue
// only follows a committed write; a store failure surfaces as
// PersistenceError with nothing enqueued.
//
// Idempotency policy: the key is derived from (accountID, contentID)
// alone. While a live post holds the key, scheduling the same pair again
// returns the existing ID without creating a second record or job. Once
// the holder reaches a terminal state, a re-post is legitimate and the
// key gains a monotonic ":r<n>" suffix.
func (s *Scheduler) SchedulePost(ctx context.Context, intent Intent) (string, error) {
	if err := validateIntent(intent); err != nil {
		return "", err
	}

	key := idempotencyKey(intent.SocialAccountID, intent.ContentPieceID)
	existing, err := s.store.FindLiveByIntent(ctx, intent.SocialAccountID, intent.ContentPieceID)
	if err == nil {
		s.logger.Info("Duplicate schedule request, returning existing post",
			zap.String("post_id", existing.ID),
			zap.String("idempotency_key", existing.IdempotencyKey))
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", &PersistenceError{Op: "idempotency lookup", Err: err}
	}

	prior, err := s.store.CountByIntent(ctx, intent.SocialAccountID, intent.ContentPieceID)
	if err != nil {
		return "", &PersistenceError{Op: "intent count", Err: err}
	}
	if prior > 0 {
		key = fmt.Sprintf("%s:r%d", key, prior)
	}

	post := &models.ScheduledPost{
		ID:              uuid.NewString(),
		OrganizationID:  intent.OrganizationID,
		ContentPieceID:  intent.ContentPieceID,
		SocialAccountID: intent.SocialAccountID,
		ScheduledAt:     intent.ScheduledAt,
		Status:          models.PostStatusScheduled,
		IdempotencyKey:  key,
		MaxAttempts:     s.maxAttempts,
	}
	if err := s.store.Create(ctx, post); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// A concurrent request for the same intent won the unique index
			// race; surface the record it committed.
			winner, findErr := s.store.FindLiveByIntent(ctx, intent.SocialAccountID, intent.ContentPieceID)
			if findErr != nil {
				return "", &PersistenceError{Op: "create scheduled post", Err: err}
			}
			s.logger.Info("Concurrent schedule request, returning existing post",
				zap.String("post_id", winner.ID))
			return winner.ID, nil
		}
		return "", &PersistenceError{Op: "create scheduled post", Err: err}
	}

	if err := s.enqueuePublishJob(ctx, post); err != nil {
		// The record is committed; the reconcile sweep will re-enqueue it.
		s.logger.Error("Enqueue failed after commit, leaving post for reconciliation",
			zap.String("post_id", post.ID),
			zap.Error(err))
		return post.ID, &PersistenceError{Op: "enqueue publish job", Err: err}
	}

	s.logger.Info("Post scheduled",
		zap.String("post_id", post.ID),
		zap.String("account_id", intent.SocialAccountID),
		zap.Time("scheduled_at", intent.ScheduledAt))
	return post.ID, nil
}

// CancelScheduledPost marks a scheduled or retrying post cancelled. The
// queue may still deliver the job; the worker no-ops on cancelled posts.
func (s *Scheduler) CancelScheduledPost(ctx context.Context, id string) error {
	err := s.store.Cancel(ctx, id, "cancelled by request")
	if err == nil {
		s.logger.Info("Post cancelled", zap.String("post_id", id))
		return nil
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		post, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return &PersistenceError{Op: "cancel lookup", Err: getErr}
		}
		return &InvalidStateError{ID: id, Status: post.Status}
	}
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: "cancel scheduled post", Err: err}
}

// CrossPost schedules the same content to several destinations. Partial
// failure never rolls back the successes and never surfaces as an error.
func (s *Scheduler) CrossPost(ctx context.Context, organizationID, contentPieceID string, targets []CrossPostTarget) CrossPostResult {
	var result CrossPostResult
	for _, target := range targets {
		id, err := s.SchedulePost(ctx, Intent{
			OrganizationID:  organizationID,
			ContentPieceID:  contentPieceID,
			SocialAccountID: target.SocialAccountID,
			ScheduledAt:     target.ScheduledAt,
		})
		if err != nil {
			result.Failures = append(result.Failures, CrossPostFailure{
				SocialAccountID: target.SocialAccountID,
				Reason:          err.Error(),
			})
			continue
		}
		result.ScheduledPostIDs = append(result.ScheduledPostIDs, id)
	}
	return result
}

// ListScheduledPosts is a read-only projection with no side effects.
func (s *Scheduler) ListScheduledPosts(ctx context.Context, organizationID string, filter store.ListFilter) ([]*models.ScheduledPost, error) {
	posts, err := s.store.List(ctx, organizationID, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list scheduled posts", Err: err}
	}
	return posts, nil
}

// Stats reports per-state post counts for the health surface.
func (s *Scheduler) Stats(ctx context.Context) (map[models.PostStatus]int64, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "count by status", Err: err}
	}
	return counts, nil
}

func (s *Scheduler) enqueuePublishJob(ctx context.Context, post *models.ScheduledPost) error {
	payload := PublishJobPayload{
		ScheduledPostID: post.ID,
		OrganizationID:  post.OrganizationID,
		ContentPieceID:  post.ContentPieceID,
		SocialAccountID: post.SocialAccountID,
	}
	delay := time.Until(post.ScheduledAt)
	if delay < 0 {
		delay = 0
	}
	_, err := s.queue.Enqueue(ctx, queue.Publishing, payload, queue.Options{
		Delay:    delay,
		DedupKey: post.ID,
	})
	return err
}

func validateIntent(intent Intent) error {
	switch {
	case intent.OrganizationID == "":
		return &ValidationError{Field: "organizationId", Reason: "is required"}
	case intent.ContentPieceID == "":
		return &ValidationError{Field: "contentPieceId", Reason: "is required"}
	case intent.SocialAccountID == "":
		return &ValidationError{Field: "socialAccountId", Reason: "is required"}
	case intent.ScheduledAt.IsZero():
		return &ValidationError{Field: "scheduledAt", Reason: "is required"}
	}
	return nil
}

func idempotencyKey(socialAccountID, contentPieceID string) string {
	return socialAccountID + ":" + contentPieceID
}
