package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"syndicate/internal/models"
)

// DatabaseConfig is the relational store connection configuration.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// NewDatabase opens the postgres connection and migrates the scheduling
// schema.
func NewDatabase(cfg *DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.ScheduledPost{},
		&models.QueueJob{},
		&models.EngagementSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// Partial unique indexes backing the uniqueness contracts concurrent
	// writers race on: one live post per publish intent, one live queue job
	// per dedup key.
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_posts_live_intent
			ON scheduled_posts (social_account_id, content_piece_id)
			WHERE status IN ('scheduled', 'publishing', 'retrying')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_jobs_live_dedup
			ON queue_jobs (queue, dedup_key)
			WHERE dedup_key <> '' AND status IN ('pending', 'running')`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	return db, nil
}

// GormStore implements PostStore and EngagementStore on a gorm database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, post *models.ScheduledPost) error {
	err := s.db.WithContext(ctx).Create(post).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (s *GormStore) FindLiveByIntent(ctx context.Context, socialAccountID, contentPieceID string) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("social_account_id = ? AND content_piece_id = ? AND status NOT IN ?",
			socialAccountID, contentPieceID, terminalStatuses()).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (s *GormStore) CountByIntent(ctx context.Context, socialAccountID, contentPieceID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("social_account_id = ? AND content_piece_id = ?", socialAccountID, contentPieceID).
		Count(&count).Error
	return count, err
}

func (s *GormStore) List(ctx context.Context, organizationID string, filter ListFilter) ([]*models.ScheduledPost, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", organizationID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SocialAccountID != "" {
		q = q.Where("social_account_id = ?", filter.SocialAccountID)
	}
	if filter.ContentPieceID != "" {
		q = q.Where("content_piece_id = ?", filter.ContentPieceID)
	}
	if filter.ScheduledAfter != nil {
		q = q.Where("scheduled_at >= ?", *filter.ScheduledAfter)
	}
	if filter.ScheduledBefore != nil {
		q = q.Where("scheduled_at <= ?", *filter.ScheduledBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var posts []*models.ScheduledPost
	if err := q.Order("scheduled_at ASC").Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error) {
	type row struct {
		Status models.PostStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.PostStatus]int64, len(models.AllPostStatuses))
	for _, status := range models.AllPostStatuses {
		counts[status] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *GormStore) ClaimForPublishing(ctx context.Context, id string, now time.Time) (*models.ScheduledPost, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status IN ?", id, []models.PostStatus{models.PostStatusScheduled, models.PostStatusRetrying}).
		Updates(map[string]any{
			"status":          models.PostStatusPublishing,
			"last_attempt_at": now,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

func (s *GormStore) RecordSuccess(ctx context.Context, id string, outcome PublishOutcome) error {
	return s.guardedUpdate(ctx, id, models.PostStatusPublishing, map[string]any{
		"status":           models.PostStatusPublished,
		"published_at":     outcome.PublishedAt,
		"platform_post_id": outcome.PlatformPostID,
		"platform_url":     outcome.PlatformURL,
		"error_message":    "",
	})
}

func (s *GormStore) RecordRetry(ctx context.Context, id string, reason string) error {
	return s.guardedUpdate(ctx, id, models.PostStatusPublishing, map[string]any{
		"status":        models.PostStatusRetrying,
		"error_message": reason,
	})
}

func (s *GormStore) RecordFailure(ctx context.Context, id string, reason string) error {
	return s.guardedUpdate(ctx, id, models.PostStatusPublishing, map[string]any{
		"status":        models.PostStatusFailed,
		"error_message": reason,
	})
}

func (s *GormStore) Cancel(ctx context.Context, id string, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status IN ?", id, []models.PostStatus{models.PostStatusScheduled, models.PostStatusRetrying}).
		Updates(map[string]any{
			"status":        models.PostStatusCancelled,
			"error_message": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *GormStore) ExpireStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("status = ? AND scheduled_at < ?", models.PostStatusScheduled, cutoff).
		Updates(map[string]any{
			"status":        models.PostStatusCancelled,
			"error_message": reason,
		})
	return res.RowsAffected, res.Error
}

func (s *GormStore) FindDueScheduled(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledPost, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.PostStatusScheduled, before).
		Order("scheduled_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var posts []*models.ScheduledPost
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *GormStore) SaveSnapshot(ctx context.Context, snapshot *models.EngagementSnapshot) error {
	return s.db.WithContext(ctx).Create(snapshot).Error
}

func (s *GormStore) ListSnapshots(ctx context.Context, scheduledPostID string) ([]*models.EngagementSnapshot, error) {
	var snapshots []*models.EngagementSnapshot
	err := s.db.WithContext(ctx).
		Where("scheduled_post_id = ?", scheduledPostID).
		Order("collected_at ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *GormStore) guardedUpdate(ctx context.Context, id string, from models.PostStatus, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func terminalStatuses() []models.PostStatus {
	return []models.PostStatus{
		models.PostStatusPublished,
		models.PostStatusFailed,
		models.PostStatusCancelled,
	}
}
