package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syndicate/internal/retry"
)

type testPayload struct {
	Value string `json:"value"`
}

func newStartedQueue(t *testing.T, queueName string, handler Handler) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue(retry.NewPolicy(time.Millisecond), Config{
		PollInterval:       5 * time.Millisecond,
		DefaultMaxAttempts: 3,
	}, zap.NewNop())
	q.OnJob(queueName, handler)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Stop)
	return q
}

func TestDeliverAndAcknowledge(t *testing.T) {
	var delivered atomic.Int64
	q := newStartedQueue(t, Publishing, func(context.Context, Job) error {
		delivered.Add(1)
		return nil
	})

	_, err := q.Enqueue(context.Background(), Publishing, testPayload{Value: "a"}, Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 5*time.Millisecond)

	pending, err := q.PendingCount(context.Background(), Publishing)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestDedupKeyKeepsOneLiveJob(t *testing.T) {
	q := NewMemoryQueue(retry.NewPolicy(time.Millisecond), Config{}, zap.NewNop())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, Publishing, testPayload{Value: "a"}, Options{DedupKey: "k1"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, Publishing, testPayload{Value: "b"}, Options{DedupKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := q.Enqueue(ctx, Publishing, testPayload{Value: "c"}, Options{DedupKey: "k2"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	live, err := q.HasLive(ctx, Publishing, "k1")
	require.NoError(t, err)
	assert.True(t, live)

	// Dedup keys are scoped per queue family.
	elsewhere, err := q.Enqueue(ctx, Analytics, testPayload{Value: "d"}, Options{DedupKey: "k1"})
	require.NoError(t, err)
	assert.NotEqual(t, first, elsewhere)
}

func TestConcurrentEnqueueSharesOneJob(t *testing.T) {
	q := NewMemoryQueue(retry.NewPolicy(time.Millisecond), Config{}, zap.NewNop())
	ctx := context.Background()

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := q.Enqueue(ctx, Publishing, testPayload{Value: "a"}, Options{DedupKey: "k1"})
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}

	pending, err := q.PendingCount(ctx, Publishing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestDedupReleasedAfterCompletion(t *testing.T) {
	var delivered atomic.Int64
	q := newStartedQueue(t, Publishing, func(context.Context, Job) error {
		delivered.Add(1)
		return nil
	})
	ctx := context.Background()

	first, err := q.Enqueue(ctx, Publishing, testPayload{Value: "a"}, Options{DedupKey: "k1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Once the holder is finished a new job may take the key.
	second, err := q.Enqueue(ctx, Publishing, testPayload{Value: "b"}, Options{DedupKey: "k1"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDelayedDelivery(t *testing.T) {
	var delivered atomic.Int64
	q := newStartedQueue(t, Publishing, func(context.Context, Job) error {
		delivered.Add(1)
		return nil
	})

	_, err := q.Enqueue(context.Background(), Publishing, testPayload{Value: "a"}, Options{
		Delay: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int64(0), delivered.Load())

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandlerErrorsRetryUntilDead(t *testing.T) {
	var attempts atomic.Int64
	q := newStartedQueue(t, Publishing, func(_ context.Context, job Job) error {
		attempts.Add(1)
		return assert.AnError
	})

	_, err := q.Enqueue(context.Background(), Publishing, testPayload{Value: "a"}, Options{
		DedupKey:    "k1",
		MaxAttempts: 2,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return attempts.Load() == 2
	}, time.Second, 5*time.Millisecond)

	// The dead job releases its dedup key and never runs again.
	require.Eventually(t, func() bool {
		live, err := q.HasLive(context.Background(), Publishing, "k1")
		return err == nil && !live
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(2), attempts.Load())
}

func TestAttemptNumberOnDelivery(t *testing.T) {
	attemptCh := make(chan int, 4)
	q := newStartedQueue(t, Publishing, func(_ context.Context, job Job) error {
		attemptCh <- job.Attempt
		if job.Attempt < 2 {
			return assert.AnError
		}
		return nil
	})

	_, err := q.Enqueue(context.Background(), Publishing, testPayload{Value: "a"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, <-attemptCh)
	assert.Equal(t, 2, <-attemptCh)
}
