package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// fakeAdapter scripts one outcome per publish call; entries beyond the
// script succeed.
type fakeAdapter struct {
	mu      sync.Mutex
	calls   int
	outcome []error
}

func (f *fakeAdapter) PlatformName() string { return "mastodon" }

func (f *fakeAdapter) Publish(_ context.Context, _ adapter.PublishRequest, _ *external.Credentials) (*adapter.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.outcome) && f.outcome[call] != nil {
		return nil, f.outcome[call]
	}
	return &adapter.PublishResult{
		PlatformPostID: "m-1",
		PlatformURL:    "https://mastodon.example/@acct/m-1",
	}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type publishEnv struct {
	store    *store.MemoryStore
	queue    *queue.MemoryQueue
	contents *external.MemoryContentStore
	adapter  *fakeAdapter
	worker   *PublishWorker
}

func newPublishEnv(t *testing.T, outcome ...error) *publishEnv {
	t.Helper()

	posts := store.NewMemoryStore()
	q := queue.NewMemoryQueue(retry.NewPolicy(time.Millisecond), queue.Config{}, zap.NewNop())

	contents := external.NewMemoryContentStore()
	contents.Put(&external.ContentPiece{ID: "content-1", Body: "hello"})

	accounts := external.NewMemoryAccountStore()
	accounts.Put(&external.SocialAccount{
		ID:             "acct-1",
		Platform:       "mastodon",
		CredentialsRef: "ref-1",
	})

	credentials := external.NewMemoryCredentialStore(0)
	credentials.Put("ref-1", &external.Credentials{AccessToken: "tok"})

	fake := &fakeAdapter{outcome: outcome}
	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(fake))

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	w := NewPublishWorker(posts, q, contents, accounts, credentials, registry,
		retry.NewPolicy(time.Millisecond), collector, zap.NewNop())

	return &publishEnv{
		store:    posts,
		queue:    q,
		contents: contents,
		adapter:  fake,
		worker:   w,
	}
}

func (e *publishEnv) seedPost(t *testing.T, status models.PostStatus) *models.ScheduledPost {
	t.Helper()
	post := &models.ScheduledPost{
		ID:              "post-1",
		OrganizationID:  "org-1",
		ContentPieceID:  "content-1",
		SocialAccountID: "acct-1",
		ScheduledAt:     time.Now(),
		Status:          status,
		IdempotencyKey:  "acct-1:content-1",
		MaxAttempts:     3,
	}
	require.NoError(t, e.store.Create(context.Background(), post))
	return post
}

func publishJob(t *testing.T, post *models.ScheduledPost) queue.Job {
	t.Helper()
	body, err := json.Marshal(scheduler.PublishJobPayload{
		ScheduledPostID: post.ID,
		OrganizationID:  post.OrganizationID,
		ContentPieceID:  post.ContentPieceID,
		SocialAccountID: post.SocialAccountID,
	})
	require.NoError(t, err)
	return queue.Job{ID: "job-1", Queue: queue.Publishing, Payload: body, Attempt: 1}
}

func TestHandlePublishesPost(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t)
	post := env.seedPost(t, models.PostStatusScheduled)

	require.NoError(t, env.worker.Handle(ctx, publishJob(t, post)))

	got, err := env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.Equal(t, "m-1", got.PlatformPostID)
	assert.NotEmpty(t, got.PlatformURL)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotNil(t, got.PublishedAt)

	assert.Equal(t, "published", env.contents.State("content-1"))

	jobs := env.queue.Snapshot(queue.Analytics)
	require.Len(t, jobs, 1)
	assert.Equal(t, "analytics-"+post.ID+"-1", jobs[0].DedupKey)

	var payload AnalyticsJobPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, post.ID, payload.ScheduledPostID)
	assert.Equal(t, 1, payload.Sample)
}

func TestHandleRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t, assert.AnError, assert.AnError, nil)
	post := env.seedPost(t, models.PostStatusScheduled)
	job := publishJob(t, post)

	require.NoError(t, env.worker.Handle(ctx, job))

	got, err := env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotEmpty(t, got.ErrorMessage)

	// The retry travels as a new delayed job, not a handler error.
	jobs := env.queue.Snapshot(queue.Publishing)
	require.Len(t, jobs, 1)
	assert.Equal(t, post.ID+"-retry-1", jobs[0].DedupKey)

	require.NoError(t, env.worker.Handle(ctx, job))
	require.NoError(t, env.worker.Handle(ctx, job))

	got, err = env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 3, env.adapter.callCount())
}

func TestHandleExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t, assert.AnError, assert.AnError, assert.AnError)
	post := env.seedPost(t, models.PostStatusScheduled)
	job := publishJob(t, post)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.worker.Handle(ctx, job))
	}

	got, err := env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Equal(t, 3, env.adapter.callCount())
	assert.Equal(t, "failed", env.contents.State("content-1"))

	// A late redelivery against the failed post is a no-op.
	require.NoError(t, env.worker.Handle(ctx, job))
	assert.Equal(t, 3, env.adapter.callCount())
}

func TestHandleSkipsCancelledPost(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t)
	post := env.seedPost(t, models.PostStatusCancelled)

	require.NoError(t, env.worker.Handle(ctx, publishJob(t, post)))

	got, err := env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusCancelled, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, 0, env.adapter.callCount())
}

func TestHandleRedeliveryAfterPublish(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t)
	post := env.seedPost(t, models.PostStatusScheduled)
	job := publishJob(t, post)

	require.NoError(t, env.worker.Handle(ctx, job))
	require.NoError(t, env.worker.Handle(ctx, job))

	assert.Equal(t, 1, env.adapter.callCount())
}

func TestHandleConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t)
	post := env.seedPost(t, models.PostStatusScheduled)
	job := publishJob(t, post)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.worker.Handle(ctx, job))
		}()
	}
	wg.Wait()

	// The guarded claim lets exactly one delivery through.
	assert.Equal(t, 1, env.adapter.callCount())

	got, err := env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestHandleMalformedPayload(t *testing.T) {
	env := newPublishEnv(t)
	err := env.worker.Handle(context.Background(), queue.Job{
		ID:      "job-1",
		Queue:   queue.Publishing,
		Payload: []byte("{not json"),
	})
	assert.NoError(t, err)
}

func TestHandleUnresolvableContentCountsAsAttempt(t *testing.T) {
	ctx := context.Background()
	env := newPublishEnv(t)
	post := env.seedPost(t, models.PostStatusScheduled)
	post.ContentPieceID = "missing"
	require.NoError(t, env.store.Create(ctx, post))

	require.NoError(t, env.worker.Handle(ctx, publishJob(t, post)))

	got, err := env.store.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.ErrorMessage, "resolve content")
	assert.Equal(t, 0, env.adapter.callCount())
}
