package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"syndicate/internal/models"
	"syndicate/internal/retry"
)

// GormQueue is the production queue driver: job rows live in the same
// relational store as the scheduling state, and a polling dispatcher
// claims due rows with guarded updates so concurrent instances never
// double-deliver a row.
type GormQueue struct {
	db       *gorm.DB
	logger   *zap.Logger
	policy   retry.Policy
	cfg      Config
	instance string

	mu       sync.RWMutex
	handlers map[string]Handler
	sems     map[string]*semaphore.Weighted

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewGormQueue(db *gorm.DB, policy retry.Policy, cfg Config, logger *zap.Logger) *GormQueue {
	return &GormQueue{
		db:       db,
		logger:   logger,
		policy:   policy,
		cfg:      cfg.withDefaults(),
		instance: uuid.NewString(),
		handlers: make(map[string]Handler),
		sems:     make(map[string]*semaphore.Weighted),
		stopCh:   make(chan struct{}),
	}
}

func (q *GormQueue) Enqueue(ctx context.Context, queueName string, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}

	job := &models.QueueJob{
		ID:          uuid.NewString(),
		Queue:       queueName,
		DedupKey:    opts.DedupKey,
		Payload:     string(body),
		Status:      models.JobStatusPending,
		RunAt:       time.Now().Add(opts.Delay),
		MaxAttempts: maxAttempts,
	}

	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.DedupKey != "" {
			var existing models.QueueJob
			findErr := tx.Where("queue = ? AND dedup_key = ? AND status IN ?",
				queueName, opts.DedupKey, liveJobStatuses()).
				First(&existing).Error
			if findErr == nil {
				job.ID = existing.ID
				return nil
			}
			if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				return findErr
			}
		}
		return tx.Create(job).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && opts.DedupKey != "" {
		// A concurrent enqueue won the partial unique index race; return
		// the row it inserted.
		var existing models.QueueJob
		findErr := q.db.WithContext(ctx).
			Where("queue = ? AND dedup_key = ? AND status IN ?",
				queueName, opts.DedupKey, liveJobStatuses()).
			First(&existing).Error
		if findErr != nil {
			return "", fmt.Errorf("enqueue %s: %w", queueName, err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return job.ID, nil
}

func (q *GormQueue) OnJob(queueName string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queueName] = handler
	q.sems[queueName] = semaphore.NewWeighted(q.cfg.concurrencyFor(queueName))
}

func (q *GormQueue) HasLive(ctx context.Context, queueName, dedupKey string) (bool, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("queue = ? AND dedup_key = ? AND status IN ?", queueName, dedupKey, liveJobStatuses()).
		Count(&count).Error
	return count > 0, err
}

func (q *GormQueue) PendingCount(ctx context.Context, queueName string) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("queue = ? AND status = ?", queueName, models.JobStatusPending).
		Count(&count).Error
	return count, err
}

// PurgeFinished removes completed and dead rows older than the cutoff.
// Called by the maintenance sweep, not correctness-critical.
func (q *GormQueue) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]models.JobStatus{models.JobStatusCompleted, models.JobStatusDead}, cutoff).
		Delete(&models.QueueJob{})
	return res.RowsAffected, res.Error
}

func (q *GormQueue) Start(ctx context.Context) error {
	if err := q.reclaimStale(ctx); err != nil {
		q.logger.Warn("Failed to reclaim stale jobs", zap.Error(err))
	}

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

	q.logger.Info("Queue dispatcher started",
		zap.String("instance", q.instance),
		zap.Duration("poll_interval", q.cfg.PollInterval))
	return nil
}

func (q *GormQueue) Stop() {
	q.once.Do(func() { close(q.stopCh) })
	q.wg.Wait()
	q.logger.Info("Queue dispatcher stopped")
}

// reclaimStale unlocks rows whose owner died mid-flight. Redelivery after
// a reclaim is the at-least-once part of the contract.
func (q *GormQueue) reclaimStale(ctx context.Context) error {
	res := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, time.Now().Add(-q.cfg.VisibilityTimeout)).
		Updates(map[string]any{
			"status":    models.JobStatusPending,
			"locked_by": "",
			"locked_at": nil,
		})
	if res.RowsAffected > 0 {
		q.logger.Info("Reclaimed stale jobs", zap.Int64("count", res.RowsAffected))
	}
	return res.Error
}

func (q *GormQueue) dispatchDue(ctx context.Context) {
	q.mu.RLock()
	queues := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		queues = append(queues, name)
	}
	q.mu.RUnlock()

	for _, queueName := range queues {
		var due []models.QueueJob
		err := q.db.WithContext(ctx).
			Where("queue = ? AND status = ? AND run_at <= ?", queueName, models.JobStatusPending, time.Now()).
			Order("run_at ASC").
			Limit(q.cfg.BatchSize).
			Find(&due).Error
		if err != nil {
			q.logger.Error("Failed to fetch due jobs", zap.String("queue", queueName), zap.Error(err))
			continue
		}

		for i := range due {
			q.claimAndRun(ctx, queueName, due[i])
		}
	}
}

func (q *GormQueue) claimAndRun(ctx context.Context, queueName string, row models.QueueJob) {
	now := time.Now()
	res := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", row.ID, models.JobStatusPending).
		Updates(map[string]any{
			"status":    models.JobStatusRunning,
			"locked_by": q.instance,
			"locked_at": now,
			"attempts":  gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		q.logger.Error("Failed to claim job", zap.String("job_id", row.ID), zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		// Another instance won the claim.
		return
	}

	q.mu.RLock()
	handler := q.handlers[queueName]
	sem := q.sems[queueName]
	q.mu.RUnlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		q.release(ctx, row.ID)
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer sem.Release(1)

		job := Job{
			ID:       row.ID,
			Queue:    queueName,
			DedupKey: row.DedupKey,
			Payload:  []byte(row.Payload),
			Attempt:  row.Attempts + 1,
		}
		if err := handler(ctx, job); err != nil {
			q.reschedule(ctx, row, err)
			return
		}
		q.complete(ctx, row.ID)
	}()
}

func (q *GormQueue) complete(ctx context.Context, id string) {
	err := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":    models.JobStatusCompleted,
			"locked_by": "",
			"locked_at": nil,
		}).Error
	if err != nil {
		q.logger.Error("Failed to complete job", zap.String("job_id", id), zap.Error(err))
	}
}

func (q *GormQueue) release(ctx context.Context, id string) {
	err := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":    models.JobStatusPending,
			"locked_by": "",
			"locked_at": nil,
			"attempts":  gorm.Expr("attempts - 1"),
		}).Error
	if err != nil {
		q.logger.Error("Failed to release job", zap.String("job_id", id), zap.Error(err))
	}
}

func (q *GormQueue) reschedule(ctx context.Context, row models.QueueJob, cause error) {
	attempts := row.Attempts + 1
	fields := map[string]any{
		"last_error": cause.Error(),
		"locked_by":  "",
		"locked_at":  nil,
	}
	if attempts >= row.MaxAttempts {
		fields["status"] = models.JobStatusDead
		q.logger.Error("Job exhausted attempts",
			zap.String("queue", row.Queue),
			zap.String("job_id", row.ID),
			zap.Int("attempts", attempts),
			zap.Error(cause))
	} else {
		fields["status"] = models.JobStatusPending
		fields["run_at"] = time.Now().Add(q.policy.NextDelay(attempts))
		q.logger.Warn("Job failed, scheduling redelivery",
			zap.String("queue", row.Queue),
			zap.String("job_id", row.ID),
			zap.Int("attempts", attempts),
			zap.Error(cause))
	}

	err := q.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ?", row.ID).
		Updates(fields).Error
	if err != nil {
		q.logger.Error("Failed to reschedule job", zap.String("job_id", row.ID), zap.Error(err))
	}
}

func liveJobStatuses() []models.JobStatus {
	return []models.JobStatus{models.JobStatusPending, models.JobStatusRunning}
}
