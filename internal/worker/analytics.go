package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"syndicate/internal/adapter"
	"syndicate/internal/external"
	"syndicate/internal/models"
	"syndicate/internal/queue"
	"syndicate/internal/store"
)

const defaultMaxSamples = 4

// AnalyticsWorker consumes the analytics queue: it measures engagement
// for a published post and re-enqueues itself with a widening interval
// until the sample budget is spent.
type AnalyticsWorker struct {
	posts       store.PostStore
	engagements store.EngagementStore
	accounts    external.AccountStore
	credentials external.CredentialStore
	adapters    *adapter.Registry
	queue       queue.Queue
	logger      *zap.Logger

	baseInterval time.Duration
	maxSamples   int
}

func NewAnalyticsWorker(
	posts store.PostStore,
	engagements store.EngagementStore,
	accounts external.AccountStore,
	credentials external.CredentialStore,
	adapters *adapter.Registry,
	q queue.Queue,
	logger *zap.Logger,
) *AnalyticsWorker {
	return &AnalyticsWorker{
		posts:        posts,
		engagements:  engagements,
		accounts:     accounts,
		credentials:  credentials,
		adapters:     adapters,
		queue:        q,
		logger:       logger,
		baseInterval: defaultAnalyticsDelay,
		maxSamples:   defaultMaxSamples,
	}
}

// SetSampling overrides the widening interval base and the sample budget.
func (w *AnalyticsWorker) SetSampling(base time.Duration, maxSamples int) {
	if base > 0 {
		w.baseInterval = base
	}
	if maxSamples > 0 {
		w.maxSamples = maxSamples
	}
}

func (w *AnalyticsWorker) Register() {
	w.queue.OnJob(queue.Analytics, w.Handle)
}

func (w *AnalyticsWorker) Handle(ctx context.Context, job queue.Job) error {
	var payload AnalyticsJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error("Dropping malformed analytics job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	post, err := w.posts.Get(ctx, payload.ScheduledPostID)
	if err != nil {
		w.logger.Warn("Analytics job references unknown post",
			zap.String("post_id", payload.ScheduledPostID), zap.Error(err))
		return nil
	}
	if post.Status != models.PostStatusPublished {
		// Measurement only makes sense for published posts.
		return nil
	}

	engagement := w.measure(ctx, post)
	snapshot := &models.EngagementSnapshot{
		ScheduledPostID: post.ID,
		PlatformPostID:  post.PlatformPostID,
		Likes:           engagement.Likes,
		Comments:        engagement.Comments,
		Shares:          engagement.Shares,
		Impressions:     engagement.Impressions,
		CollectedAt:     time.Now(),
	}
	if err := w.engagements.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}

	w.logger.Info("Engagement sampled",
		zap.String("post_id", post.ID),
		zap.Int("sample", payload.Sample),
		zap.Int64("impressions", engagement.Impressions))

	if payload.Sample >= w.maxSamples {
		return nil
	}

	// Widen the interval for each successive sample. The dedup key is
	// per-sample: the job being handled still holds its own key as live,
	// so reusing it would swallow the continuation.
	delay := w.baseInterval * time.Duration(1<<uint(payload.Sample))
	_, err = w.queue.Enqueue(ctx, queue.Analytics,
		AnalyticsJobPayload{ScheduledPostID: post.ID, Sample: payload.Sample + 1},
		queue.Options{
			Delay:    delay,
			DedupKey: analyticsDedupKey(post.ID, payload.Sample+1),
		})
	if err != nil {
		w.logger.Error("Failed to enqueue next analytics sample",
			zap.String("post_id", post.ID), zap.Error(err))
	}
	return nil
}

// measure asks the adapter for engagement when it supports it; adapters
// without the capability yield a zero sample so the series stays
// continuous.
func (w *AnalyticsWorker) measure(ctx context.Context, post *models.ScheduledPost) adapter.Engagement {
	account, err := w.accounts.GetAccount(ctx, post.SocialAccountID)
	if err != nil {
		w.logger.Warn("Cannot resolve account for analytics",
			zap.String("post_id", post.ID), zap.Error(err))
		return adapter.Engagement{}
	}

	platformAdapter, err := w.adapters.Resolve(account.Platform, account.BrokerType)
	if err != nil {
		return adapter.Engagement{}
	}
	reader, ok := platformAdapter.(adapter.EngagementReader)
	if !ok {
		return adapter.Engagement{}
	}

	creds, err := w.credentials.GetCredentials(ctx, account.CredentialsRef)
	if err != nil {
		w.logger.Warn("Cannot resolve credentials for analytics",
			zap.String("post_id", post.ID), zap.Error(err))
		return adapter.Engagement{}
	}

	engagement, err := reader.Engagement(ctx, post.PlatformPostID, creds)
	if err != nil {
		w.logger.Warn("Engagement read failed",
			zap.String("post_id", post.ID), zap.Error(err))
		return adapter.Engagement{}
	}
	return *engagement
}
