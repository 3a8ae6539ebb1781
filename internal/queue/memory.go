package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"syndicate/internal/models"
	"syndicate/internal/retry"
)

type memoryJob struct {
	id          string
	queue       string
	dedupKey    string
	payload     []byte
	status      models.JobStatus
	runAt       time.Time
	attempts    int
	maxAttempts int
	lastError   string
}

// MemoryQueue implements Queue in process with the same delivery
// semantics as GormQueue. It backs tests and single-node dev runs.
type MemoryQueue struct {
	logger *zap.Logger
	policy retry.Policy
	cfg    Config

	mu       sync.Mutex
	jobs     []*memoryJob
	handlers map[string]Handler
	sems     map[string]*semaphore.Weighted

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewMemoryQueue(policy retry.Policy, cfg Config, logger *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		logger:   logger,
		policy:   policy,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]Handler),
		sems:     make(map[string]*semaphore.Weighted),
		stopCh:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, queueName string, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.DedupKey != "" {
		for _, job := range q.jobs {
			if job.queue == queueName && job.dedupKey == opts.DedupKey && jobLive(job.status) {
				return job.id, nil
			}
		}
	}

	job := &memoryJob{
		id:          uuid.NewString(),
		queue:       queueName,
		dedupKey:    opts.DedupKey,
		payload:     body,
		status:      models.JobStatusPending,
		runAt:       time.Now().Add(opts.Delay),
		maxAttempts: maxAttempts,
	}
	q.jobs = append(q.jobs, job)
	return job.id, nil
}

func (q *MemoryQueue) OnJob(queueName string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queueName] = handler
	q.sems[queueName] = semaphore.NewWeighted(q.cfg.concurrencyFor(queueName))
}

func (q *MemoryQueue) HasLive(_ context.Context, queueName, dedupKey string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.queue == queueName && job.dedupKey == dedupKey && jobLive(job.status) {
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue) PendingCount(_ context.Context, queueName string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var count int64
	for _, job := range q.jobs {
		if job.queue == queueName && job.status == models.JobStatusPending {
			count++
		}
	}
	return count, nil
}

// Snapshot returns copies of the queue family's jobs, used by tests and
// diagnostics.
func (q *MemoryQueue) Snapshot(queueName string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, job := range q.jobs {
		if job.queue == queueName {
			out = append(out, Job{
				ID:       job.id,
				Queue:    job.queue,
				DedupKey: job.dedupKey,
				Payload:  append([]byte(nil), job.payload...),
				Attempt:  job.attempts,
			})
		}
	}
	return out
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.dispatchDue(ctx)
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (q *MemoryQueue) Stop() {
	q.once.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *MemoryQueue) dispatchDue(ctx context.Context) {
	now := time.Now()

	q.mu.Lock()
	var claimed []*memoryJob
	for _, job := range q.jobs {
		if job.status == models.JobStatusPending && !job.runAt.After(now) {
			if _, ok := q.handlers[job.queue]; !ok {
				continue
			}
			job.status = models.JobStatusRunning
			job.attempts++
			claimed = append(claimed, job)
		}
	}
	q.mu.Unlock()

	for _, job := range claimed {
		q.run(ctx, job)
	}
}

func (q *MemoryQueue) run(ctx context.Context, job *memoryJob) {
	q.mu.Lock()
	handler := q.handlers[job.queue]
	sem := q.sems[job.queue]
	q.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		q.mu.Lock()
		job.status = models.JobStatusPending
		job.attempts--
		q.mu.Unlock()
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer sem.Release(1)

		delivered := Job{
			ID:       job.id,
			Queue:    job.queue,
			DedupKey: job.dedupKey,
			Payload:  append([]byte(nil), job.payload...),
			Attempt:  job.attempts,
		}
		err := handler(ctx, delivered)

		q.mu.Lock()
		defer q.mu.Unlock()
		if err == nil {
			job.status = models.JobStatusCompleted
			return
		}
		job.lastError = err.Error()
		if job.attempts >= job.maxAttempts {
			job.status = models.JobStatusDead
			q.logger.Error("Job exhausted attempts",
				zap.String("queue", job.queue),
				zap.String("job_id", job.id),
				zap.Int("attempts", job.attempts),
				zap.Error(err))
			return
		}
		job.status = models.JobStatusPending
		job.runAt = time.Now().Add(q.policy.NextDelay(job.attempts))
	}()
}

func jobLive(status models.JobStatus) bool {
	return status == models.JobStatusPending || status == models.JobStatusRunning
}
