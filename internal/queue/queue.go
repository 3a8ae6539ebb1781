// Package queue provides the durable, delayed-execution job queue the
// scheduler and workers communicate through. Delivery is at-least-once;
// consumers are expected to be idempotent. A dedup key keeps at most one
// live job per logical unit of work, and handler failures are retried
// with exponential backoff until the job's attempt budget is spent.
package queue

import (
	"context"
	"errors"
	"time"
)

// Queue family names, one per job family.
const (
	Publishing        = "publishing"
	Analytics         = "analytics"
	CredentialRefresh = "credential-refresh"
)

// ErrNoHandler reports a started queue family without a registered consumer.
var ErrNoHandler = errors.New("queue: no handler registered")

// Job is the unit handed to a consumer.
type Job struct {
	ID       string
	Queue    string
	DedupKey string
	Payload  []byte
	Attempt  int
}

// Options controls a single enqueue.
type Options struct {
	// Delay defers the first delivery. Zero means as soon as possible.
	Delay time.Duration
	// DedupKey, when set, makes the enqueue idempotent: if a live job with
	// the same key exists in the queue family, its ID is returned and no
	// new job is created.
	DedupKey string
	// MaxAttempts bounds queue-level redelivery after handler errors.
	// Zero uses the queue's default.
	MaxAttempts int
}

// Handler consumes one job. A nil return acknowledges the job; an error
// schedules a redelivery with backoff until attempts are exhausted.
type Handler func(ctx context.Context, job Job) error

// Queue is the durable queue contract. Lifecycle is owned by the process
// entry point: register handlers, then Start; Stop drains in-flight work.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts Options) (string, error)
	OnJob(queueName string, handler Handler)
	// HasLive reports whether a pending or running job holds the dedup key.
	HasLive(ctx context.Context, queueName, dedupKey string) (bool, error)
	// PendingCount reports queue depth for health metrics.
	PendingCount(ctx context.Context, queueName string) (int64, error)
	Start(ctx context.Context) error
	Stop()
}

// Config tunes the polling dispatcher shared by the queue drivers.
type Config struct {
	PollInterval       time.Duration
	BatchSize          int
	DefaultMaxAttempts int
	DefaultConcurrency int64
	// Concurrency overrides the per-queue worker bound by family name.
	Concurrency map[string]int64
	// VisibilityTimeout is how long a running job may hold its lock before
	// a restarted dispatcher reclaims it.
	VisibilityTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.DefaultMaxAttempts <= 0 {
		out.DefaultMaxAttempts = 3
	}
	if out.DefaultConcurrency <= 0 {
		out.DefaultConcurrency = 4
	}
	if out.VisibilityTimeout <= 0 {
		out.VisibilityTimeout = 5 * time.Minute
	}
	return out
}

func (c Config) concurrencyFor(queueName string) int64 {
	if n, ok := c.Concurrency[queueName]; ok && n > 0 {
		return n
	}
	return c.DefaultConcurrency
}
