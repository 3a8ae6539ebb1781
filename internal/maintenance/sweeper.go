// Package maintenance runs the periodic sweeps: credential refresh
// lookahead, stale-post expiry, queue reconciliation, queue hygiene, and
// health metric snapshots.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"syndicate/internal/external"
	"syndicate/internal/metrics"
	"syndicate/internal/queue"
	"syndicate/internal/scheduler"
	"syndicate/internal/store"
	"syndicate/internal/worker"
)

// Config holds the sweep schedules and windows.
type Config struct {
	RefreshSchedule   string        // cron spec, default every 12h
	ExpirySchedule    string        // default daily
	ReconcileSchedule string        // default hourly
	MetricsSchedule   string        // default every minute
	CredentialWindow  time.Duration // refresh lookahead, default 24h
	ExpiryWindow      time.Duration // stale cutoff, default 24h
	JobRetention      time.Duration // finished queue row retention, default 7d
	ReconcileBatch    int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RefreshSchedule == "" {
		out.RefreshSchedule = "@every 12h"
	}
	if out.ExpirySchedule == "" {
		out.ExpirySchedule = "@daily"
	}
	if out.ReconcileSchedule == "" {
		out.ReconcileSchedule = "@hourly"
	}
	if out.MetricsSchedule == "" {
		out.MetricsSchedule = "@every 1m"
	}
	if out.CredentialWindow <= 0 {
		out.CredentialWindow = 24 * time.Hour
	}
	if out.ExpiryWindow <= 0 {
		out.ExpiryWindow = 24 * time.Hour
	}
	if out.JobRetention <= 0 {
		out.JobRetention = 7 * 24 * time.Hour
	}
	if out.ReconcileBatch <= 0 {
		out.ReconcileBatch = 100
	}
	return out
}

// JobPurger is the optional queue hygiene hook; the gorm queue driver
// implements it.
type JobPurger interface {
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper owns the cron runner. Sweep bodies are exported methods so
// they stay testable without waiting on schedules.
type Sweeper struct {
	cfg       Config
	posts     store.PostStore
	accounts  external.AccountStore
	queue     queue.Queue
	purger    JobPurger
	collector *metrics.Collector
	logger    *zap.Logger
	cron      *cron.Cron
}

func NewSweeper(
	cfg Config,
	posts store.PostStore,
	accounts external.AccountStore,
	q queue.Queue,
	purger JobPurger,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		cfg:       cfg.withDefaults(),
		posts:     posts,
		accounts:  accounts,
		queue:     q,
		purger:    purger,
		collector: collector,
		logger:    logger,
	}
}

// Start registers the schedules and launches the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	schedules := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{s.cfg.RefreshSchedule, "credential-refresh", s.SweepCredentials},
		{s.cfg.ExpirySchedule, "expiry", s.SweepExpired},
		{s.cfg.ReconcileSchedule, "reconcile", s.SweepReconcile},
		{s.cfg.MetricsSchedule, "metrics", s.SweepMetrics},
	}
	for _, schedule := range schedules {
		name, run := schedule.name, schedule.run
		_, err := s.cron.AddFunc(schedule.spec, func() {
			s.collector.RecordSweepRun(name)
			if err := run(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.String("sweep", name), zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Maintenance sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("Maintenance sweeper stopped")
}

// SweepCredentials enqueues a refresh job for every account whose
// credentials expire inside the lookahead window. The dedup key keeps a
// slow refresh from piling up duplicates.
func (s *Sweeper) SweepCredentials(ctx context.Context) error {
	expiring, err := s.accounts.ListExpiring(ctx, time.Now().Add(s.cfg.CredentialWindow))
	if err != nil {
		return err
	}

	for _, account := range expiring {
		_, err := s.queue.Enqueue(ctx, queue.CredentialRefresh,
			worker.RefreshJobPayload{SocialAccountID: account.ID},
			queue.Options{DedupKey: "refresh-" + account.ID})
		if err != nil {
			s.logger.Error("Failed to enqueue credential refresh",
				zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	if len(expiring) > 0 {
		s.logger.Info("Credential refresh jobs enqueued", zap.Int("count", len(expiring)))
	}
	return nil
}

// SweepExpired force-cancels scheduled posts the queue provably lost:
// still scheduled long after their execution time.
func (s *Sweeper) SweepExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.ExpiryWindow)
	n, err := s.posts.ExpireStale(ctx, cutoff, "expired")
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("Expired stale scheduled posts", zap.Int64("count", n))
	}

	if s.purger != nil {
		purged, err := s.purger.PurgeFinished(ctx, time.Now().Add(-s.cfg.JobRetention))
		if err != nil {
			s.logger.Error("Queue purge failed", zap.Error(err))
		} else if purged > 0 {
			s.logger.Info("Purged finished queue jobs", zap.Int64("count", purged))
		}
	}
	return nil
}

// SweepReconcile repairs the committed-but-never-enqueued gap: a
// scheduled post past its execution time with no live queue job gets its
// job re-enqueued. Dedup by post ID makes this safe to run repeatedly.
func (s *Sweeper) SweepReconcile(ctx context.Context) error {
	due, err := s.posts.FindDueScheduled(ctx, time.Now(), s.cfg.ReconcileBatch)
	if err != nil {
		return err
	}

	var requeued int
	for _, post := range due {
		live, err := s.queue.HasLive(ctx, queue.Publishing, post.ID)
		if err != nil {
			return err
		}
		if live {
			continue
		}
		_, err = s.queue.Enqueue(ctx, queue.Publishing,
			scheduler.PublishJobPayload{
				ScheduledPostID: post.ID,
				OrganizationID:  post.OrganizationID,
				ContentPieceID:  post.ContentPieceID,
				SocialAccountID: post.SocialAccountID,
			},
			queue.Options{DedupKey: post.ID})
		if err != nil {
			s.logger.Error("Failed to re-enqueue orphaned post",
				zap.String("post_id", post.ID), zap.Error(err))
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Warn("Re-enqueued orphaned scheduled posts", zap.Int("count", requeued))
	}
	return nil
}

// SweepMetrics refreshes the per-state and queue-depth gauges.
func (s *Sweeper) SweepMetrics(ctx context.Context) error {
	counts, err := s.posts.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for status, n := range counts {
		s.collector.SetPostStateCount(string(status), n)
	}

	for _, queueName := range []string{queue.Publishing, queue.Analytics, queue.CredentialRefresh} {
		depth, err := s.queue.PendingCount(ctx, queueName)
		if err != nil {
			return err
		}
		s.collector.SetQueueDepth(queueName, depth)
	}
	return nil
}
