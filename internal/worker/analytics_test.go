package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syndicate/internal/adapter"
	"syndicate/internal/external"
	"syndicate/internal/models"
	"syndicate/internal/queue"
	"syndicate/internal/retry"
	"syndicate/internal/store"
)

// readerAdapter adds the engagement capability on top of fakeAdapter.
type readerAdapter struct {
	fakeAdapter
	engagement adapter.Engagement
}

func (r *readerAdapter) Engagement(_ context.Context, _ string, _ *external.Credentials) (*adapter.Engagement, error) {
	e := r.engagement
	return &e, nil
}

type analyticsEnv struct {
	store  *store.MemoryStore
	queue  *queue.MemoryQueue
	worker *AnalyticsWorker
}

func newAnalyticsEnv(t *testing.T, platformAdapter adapter.Adapter) *analyticsEnv {
	t.Helper()

	posts := store.NewMemoryStore()
	q := queue.NewMemoryQueue(retry.NewPolicy(time.Millisecond), queue.Config{
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop())

	accounts := external.NewMemoryAccountStore()
	accounts.Put(&external.SocialAccount{
		ID:             "acct-1",
		Platform:       "mastodon",
		CredentialsRef: "ref-1",
	})

	credentials := external.NewMemoryCredentialStore(0)
	credentials.Put("ref-1", &external.Credentials{AccessToken: "tok"})

	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(platformAdapter))

	w := NewAnalyticsWorker(posts, posts, accounts, credentials, registry, q, zap.NewNop())

	return &analyticsEnv{store: posts, queue: q, worker: w}
}

func (e *analyticsEnv) seedPublished(t *testing.T) *models.ScheduledPost {
	t.Helper()
	publishedAt := time.Now()
	post := &models.ScheduledPost{
		ID:              "post-1",
		OrganizationID:  "org-1",
		ContentPieceID:  "content-1",
		SocialAccountID: "acct-1",
		ScheduledAt:     time.Now(),
		Status:          models.PostStatusPublished,
		IdempotencyKey:  "acct-1:content-1",
		MaxAttempts:     3,
		PlatformPostID:  "m-1",
		PublishedAt:     &publishedAt,
	}
	require.NoError(t, e.store.Create(context.Background(), post))
	return post
}

func analyticsJob(t *testing.T, postID string, sample int) queue.Job {
	t.Helper()
	body, err := json.Marshal(AnalyticsJobPayload{ScheduledPostID: postID, Sample: sample})
	require.NoError(t, err)
	return queue.Job{ID: "job-1", Queue: queue.Analytics, Payload: body, Attempt: 1}
}

func TestAnalyticsSavesSnapshotAndReschedules(t *testing.T) {
	ctx := context.Background()
	env := newAnalyticsEnv(t, &readerAdapter{
		engagement: adapter.Engagement{Likes: 10, Comments: 2, Shares: 1, Impressions: 500},
	})
	post := env.seedPublished(t)

	require.NoError(t, env.worker.Handle(ctx, analyticsJob(t, post.ID, 1)))

	snapshots, err := env.store.ListSnapshots(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "m-1", snapshots[0].PlatformPostID)
	assert.Equal(t, int64(10), snapshots[0].Likes)
	assert.Equal(t, int64(500), snapshots[0].Impressions)

	jobs := env.queue.Snapshot(queue.Analytics)
	require.Len(t, jobs, 1)
	assert.Equal(t, "analytics-"+post.ID+"-2", jobs[0].DedupKey)
	var payload AnalyticsJobPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, 2, payload.Sample)
}

func TestAnalyticsChainRunsToBudgetThroughQueue(t *testing.T) {
	ctx := context.Background()
	env := newAnalyticsEnv(t, &readerAdapter{
		engagement: adapter.Engagement{Likes: 1},
	})
	post := env.seedPublished(t)
	env.worker.SetSampling(time.Millisecond, 3)

	env.queue.OnJob(queue.Analytics, env.worker.Handle)
	require.NoError(t, env.queue.Start(ctx))
	defer env.queue.Stop()

	// The first sample is enqueued while no other analytics job is live,
	// every later one while its predecessor still holds the running state.
	_, err := env.queue.Enqueue(ctx, queue.Analytics,
		AnalyticsJobPayload{ScheduledPostID: post.ID, Sample: 1},
		queue.Options{DedupKey: "analytics-" + post.ID + "-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshots, err := env.store.ListSnapshots(ctx, post.ID)
		return err == nil && len(snapshots) == 3
	}, 5*time.Second, 5*time.Millisecond)

	// The budget is respected: no fourth sample appears.
	time.Sleep(50 * time.Millisecond)
	snapshots, err := env.store.ListSnapshots(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(t, snapshots, 3)
}

func TestAnalyticsStopsAtSampleBudget(t *testing.T) {
	ctx := context.Background()
	env := newAnalyticsEnv(t, &readerAdapter{})
	post := env.seedPublished(t)

	require.NoError(t, env.worker.Handle(ctx, analyticsJob(t, post.ID, defaultMaxSamples)))

	snapshots, err := env.store.ListSnapshots(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
	assert.Empty(t, env.queue.Snapshot(queue.Analytics))
}

func TestAnalyticsSkipsUnpublishedPost(t *testing.T) {
	ctx := context.Background()
	env := newAnalyticsEnv(t, &readerAdapter{})
	post := env.seedPublished(t)
	post.Status = models.PostStatusFailed
	require.NoError(t, env.store.Create(ctx, post))

	require.NoError(t, env.worker.Handle(ctx, analyticsJob(t, post.ID, 1)))

	snapshots, err := env.store.ListSnapshots(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, snapshots)
	assert.Empty(t, env.queue.Snapshot(queue.Analytics))
}

func TestAnalyticsZeroSampleWithoutReader(t *testing.T) {
	ctx := context.Background()
	env := newAnalyticsEnv(t, &fakeAdapter{})
	post := env.seedPublished(t)

	require.NoError(t, env.worker.Handle(ctx, analyticsJob(t, post.ID, 1)))

	// The series stays continuous even when the adapter cannot measure.
	snapshots, err := env.store.ListSnapshots(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Zero(t, snapshots[0].Likes)
	assert.Zero(t, snapshots[0].Impressions)
}

func TestAnalyticsUnknownPost(t *testing.T) {
	env := newAnalyticsEnv(t, &readerAdapter{})
	assert.NoError(t, env.worker.Handle(context.Background(), analyticsJob(t, "missing", 1)))
}
