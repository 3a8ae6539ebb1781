// Package worker holds the queue consumers: the publish worker that
// drives the ScheduledPost state machine, the analytics collector, and
// the credential refresher.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"syndicate/internal/adapter"
	"syndicate/internal/external"
	"syndicate/internal/metrics"
	"syndicate/internal/models"
	"syndicate/internal/queue"
	"syndicate/internal/retry"
	"syndicate/internal/scheduler"
	"syndicate/internal/store"
)

const defaultAnalyticsDelay = time.Hour

// AnalyticsJobPayload travels on the analytics queue after a successful
// publish.
type AnalyticsJobPayload struct {
	ScheduledPostID string `json:"scheduled_post_id"`
	Sample          int    `json:"sample"`
}

func analyticsDedupKey(postID string, sample int) string {
	return fmt.Sprintf("analytics-%s-%d", postID, sample)
}

// PublishWorker consumes the publishing queue and reconciles each
// attempt into the ScheduledPost record. It never returns handler errors
// for business failures; retries travel as new delayed jobs so they
// survive process restarts.
type PublishWorker struct {
	store       store.PostStore
	queue       queue.Queue
	contents    external.ContentStore
	accounts    external.AccountStore
	credentials external.CredentialStore
	adapters    *adapter.Registry
	policy      retry.Policy
	collector   *metrics.Collector
	logger      *zap.Logger

	analyticsDelay time.Duration
}

func NewPublishWorker(
	postStore store.PostStore,
	q queue.Queue,
	contents external.ContentStore,
	accounts external.AccountStore,
	credentials external.CredentialStore,
	adapters *adapter.Registry,
	policy retry.Policy,
	collector *metrics.Collector,
	logger *zap.Logger,
) *PublishWorker {
	return &PublishWorker{
		store:          postStore,
		queue:          q,
		contents:       contents,
		accounts:       accounts,
		credentials:    credentials,
		adapters:       adapters,
		policy:         policy,
		collector:      collector,
		logger:         logger,
		analyticsDelay: defaultAnalyticsDelay,
	}
}

// SetAnalyticsDelay overrides the delay before the first measurement job.
func (w *PublishWorker) SetAnalyticsDelay(d time.Duration) {
	if d > 0 {
		w.analyticsDelay = d
	}
}

// Register attaches the worker to its queue family.
func (w *PublishWorker) Register() {
	w.queue.OnJob(queue.Publishing, w.Handle)
}

// Handle executes one publish attempt. The claim is an atomic guarded
// update, so redelivered or late jobs against terminal posts no-op here
// rather than double-posting.
func (w *PublishWorker) Handle(ctx context.Context, job queue.Job) error {
	var payload scheduler.PublishJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error("Dropping malformed publish job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	post, err := w.store.ClaimForPublishing(ctx, payload.ScheduledPostID, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Terminal or concurrently claimed: acknowledge, the queue may
			// redeliver and this is the safety valve.
			w.logger.Debug("Skipping job for post not in a claimable state",
				zap.String("post_id", payload.ScheduledPostID))
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Warn("Publish job references unknown post",
				zap.String("post_id", payload.ScheduledPostID))
			return nil
		}
		return fmt.Errorf("claim post %s: %w", payload.ScheduledPostID, err)
	}

	w.logger.Info("Executing publish attempt",
		zap.String("post_id", post.ID),
		zap.Int("attempt", post.AttemptCount),
		zap.Int("max_attempts", post.MaxAttempts))

	account, err := w.accounts.GetAccount(ctx, post.SocialAccountID)
	if err != nil {
		return w.reconcileFailure(ctx, post, "", fmt.Sprintf("resolve account: %v", err))
	}

	content, err := w.contents.GetContent(ctx, post.ContentPieceID)
	if err != nil {
		return w.reconcileFailure(ctx, post, account.Platform, fmt.Sprintf("resolve content: %v", err))
	}

	creds, err := w.credentials.GetCredentials(ctx, account.CredentialsRef)
	if err != nil {
		credErr := &scheduler.CredentialError{Ref: account.CredentialsRef, Err: err}
		return w.reconcileFailure(ctx, post, account.Platform, credErr.Error())
	}

	platformAdapter, err := w.adapters.Resolve(account.Platform, account.BrokerType)
	if err != nil {
		return w.reconcileFailure(ctx, post, account.Platform, err.Error())
	}

	started := time.Now()
	result, err := platformAdapter.Publish(ctx, adapter.PublishRequest{
		Platform:         account.Platform,
		Content:          content,
		IdempotencyToken: post.ID,
	}, creds)
	w.collector.ObservePublishDuration(account.Platform, time.Since(started))
	if err != nil {
		adapterErr := &scheduler.AdapterError{Platform: account.Platform, Err: err}
		return w.reconcileFailure(ctx, post, account.Platform, adapterErr.Error())
	}

	return w.reconcileSuccess(ctx, post, account.Platform, result)
}

func (w *PublishWorker) reconcileSuccess(ctx context.Context, post *models.ScheduledPost, platform string, result *adapter.PublishResult) error {
	now := time.Now()
	err := w.store.RecordSuccess(ctx, post.ID, store.PublishOutcome{
		PlatformPostID: result.PlatformPostID,
		PlatformURL:    result.PlatformURL,
		PublishedAt:    now,
	})
	if err != nil {
		// The platform call went through but the write did not commit; a
		// redelivery may double-post unless the platform honors the
		// idempotency token. Known limitation of the success path.
		return fmt.Errorf("record success for post %s: %w", post.ID, err)
	}

	w.collector.RecordPublish(platform, true)
	w.logger.Info("Post published",
		zap.String("post_id", post.ID),
		zap.String("platform", platform),
		zap.String("platform_post_id", result.PlatformPostID),
		zap.Int("attempt", post.AttemptCount))

	if err := w.contents.MarkContentPublished(ctx, post.ContentPieceID); err != nil {
		w.logger.Error("Failed to mark upstream content published",
			zap.String("content_id", post.ContentPieceID), zap.Error(err))
	}

	_, err = w.queue.Enqueue(ctx, queue.Analytics,
		AnalyticsJobPayload{ScheduledPostID: post.ID, Sample: 1},
		queue.Options{
			Delay:    w.analyticsDelay,
			DedupKey: analyticsDedupKey(post.ID, 1),
		})
	if err != nil {
		w.logger.Error("Failed to enqueue analytics job",
			zap.String("post_id", post.ID), zap.Error(err))
	}
	return nil
}

// reconcileFailure applies the retry policy. Retryable failures become a
// delayed continuation job rather than a handler error: durability of the
// retry chain lives in the queue, not in this process.
func (w *PublishWorker) reconcileFailure(ctx context.Context, post *models.ScheduledPost, platform string, reason string) error {
	w.collector.RecordPublish(platform, false)

	if w.policy.ShouldRetry(post.AttemptCount, post.MaxAttempts) {
		if err := w.store.RecordRetry(ctx, post.ID, reason); err != nil {
			return fmt.Errorf("record retry for post %s: %w", post.ID, err)
		}

		delay := w.policy.NextDelay(post.AttemptCount)
		_, err := w.queue.Enqueue(ctx, queue.Publishing,
			scheduler.PublishJobPayload{
				ScheduledPostID: post.ID,
				OrganizationID:  post.OrganizationID,
				ContentPieceID:  post.ContentPieceID,
				SocialAccountID: post.SocialAccountID,
				RetryCount:      post.AttemptCount,
			},
			queue.Options{
				Delay:    delay,
				DedupKey: fmt.Sprintf("%s-retry-%d", post.ID, post.AttemptCount),
			})
		if err != nil {
			// Let the queue redeliver this job; the claim from retrying
			// costs an extra attempt but keeps the chain alive.
			return fmt.Errorf("enqueue retry for post %s: %w", post.ID, err)
		}

		w.logger.Warn("Publish attempt failed, retry scheduled",
			zap.String("post_id", post.ID),
			zap.Int("attempt", post.AttemptCount),
			zap.Duration("delay", delay),
			zap.String("reason", reason))
		return nil
	}

	if err := w.store.RecordFailure(ctx, post.ID, reason); err != nil {
		return fmt.Errorf("record failure for post %s: %w", post.ID, err)
	}

	w.logger.Error("Post failed permanently",
		zap.String("post_id", post.ID),
		zap.Int("attempts", post.AttemptCount),
		zap.String("reason", reason))

	if err := w.contents.MarkContentFailed(ctx, post.ContentPieceID); err != nil {
		w.logger.Error("Failed to mark upstream content failed",
			zap.String("content_id", post.ContentPieceID), zap.Error(err))
	}
	return nil
}
