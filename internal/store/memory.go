package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"syndicate/internal/models"
)

// MemoryStore implements PostStore and EngagementStore in process. It is
// the storage driver for tests and single-node dev runs; semantics match
// GormStore, including guarded transitions.
type MemoryStore struct {
	mu        sync.Mutex
	posts     map[string]*models.ScheduledPost
	snapshots map[string][]*models.EngagementSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:     make(map[string]*models.ScheduledPost),
		snapshots: make(map[string][]*models.EngagementSnapshot),
	}
}

func (s *MemoryStore) Create(_ context.Context, post *models.ScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.posts {
		if existing.ID == post.ID {
			continue
		}
		if existing.IdempotencyKey == post.IdempotencyKey {
			return ErrDuplicateKey
		}
		if !post.Status.Terminal() && !existing.Status.Terminal() &&
			existing.SocialAccountID == post.SocialAccountID &&
			existing.ContentPieceID == post.ContentPieceID {
			return ErrDuplicateKey
		}
	}
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	cp := *post
	s.posts[post.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (*models.ScheduledPost, error) {
	post, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *post
	return &cp, nil
}

func (s *MemoryStore) FindLiveByIntent(_ context.Context, socialAccountID, contentPieceID string) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, post := range s.posts {
		if post.SocialAccountID == socialAccountID && post.ContentPieceID == contentPieceID && !post.Status.Terminal() {
			cp := *post
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CountByIntent(_ context.Context, socialAccountID, contentPieceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, post := range s.posts {
		if post.SocialAccountID == socialAccountID && post.ContentPieceID == contentPieceID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) List(_ context.Context, organizationID string, filter ListFilter) ([]*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledPost
	for _, post := range s.posts {
		if post.OrganizationID != organizationID {
			continue
		}
		if filter.Status != "" && post.Status != filter.Status {
			continue
		}
		if filter.SocialAccountID != "" && post.SocialAccountID != filter.SocialAccountID {
			continue
		}
		if filter.ContentPieceID != "" && post.ContentPieceID != filter.ContentPieceID {
			continue
		}
		if filter.ScheduledAfter != nil && post.ScheduledAt.Before(*filter.ScheduledAfter) {
			continue
		}
		if filter.ScheduledBefore != nil && post.ScheduledAt.After(*filter.ScheduledBefore) {
			continue
		}
		cp := *post
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[models.PostStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.PostStatus]int64, len(models.AllPostStatuses))
	for _, status := range models.AllPostStatuses {
		counts[status] = 0
	}
	for _, post := range s.posts {
		counts[post.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ClaimForPublishing(_ context.Context, id string, now time.Time) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if post.Status != models.PostStatusScheduled && post.Status != models.PostStatusRetrying {
		return nil, ErrInvalidTransition
	}
	post.Status = models.PostStatusPublishing
	post.AttemptCount++
	attemptAt := now
	post.LastAttemptAt = &attemptAt
	post.UpdatedAt = time.Now()
	cp := *post
	return &cp, nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, id string, outcome PublishOutcome) error {
	return s.transition(id, models.PostStatusPublishing, func(post *models.ScheduledPost) {
		post.Status = models.PostStatusPublished
		publishedAt := outcome.PublishedAt
		post.PublishedAt = &publishedAt
		post.PlatformPostID = outcome.PlatformPostID
		post.PlatformURL = outcome.PlatformURL
		post.ErrorMessage = ""
	})
}

func (s *MemoryStore) RecordRetry(_ context.Context, id string, reason string) error {
	return s.transition(id, models.PostStatusPublishing, func(post *models.ScheduledPost) {
		post.Status = models.PostStatusRetrying
		post.ErrorMessage = reason
	})
}

func (s *MemoryStore) RecordFailure(_ context.Context, id string, reason string) error {
	return s.transition(id, models.PostStatusPublishing, func(post *models.ScheduledPost) {
		post.Status = models.PostStatusFailed
		post.ErrorMessage = reason
	})
}

func (s *MemoryStore) Cancel(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	if post.Status != models.PostStatusScheduled && post.Status != models.PostStatusRetrying {
		return ErrInvalidTransition
	}
	post.Status = models.PostStatusCancelled
	post.ErrorMessage = reason
	post.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ExpireStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, post := range s.posts {
		if post.Status == models.PostStatusScheduled && post.ScheduledAt.Before(cutoff) {
			post.Status = models.PostStatusCancelled
			post.ErrorMessage = reason
			post.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindDueScheduled(_ context.Context, before time.Time, limit int) ([]*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledPost
	for _, post := range s.posts {
		if post.Status == models.PostStatusScheduled && !post.ScheduledAt.After(before) {
			cp := *post
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot *models.EngagementSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snapshot
	cp.ID = uint(len(s.snapshots[snapshot.ScheduledPostID]) + 1)
	s.snapshots[snapshot.ScheduledPostID] = append(s.snapshots[snapshot.ScheduledPostID], &cp)
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, scheduledPostID string) ([]*models.EngagementSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshots := s.snapshots[scheduledPostID]
	out := make([]*models.EngagementSnapshot, len(snapshots))
	for i, snapshot := range snapshots {
		cp := *snapshot
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) transition(id string, from models.PostStatus, apply func(*models.ScheduledPost)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	if post.Status != from {
		return ErrInvalidTransition
	}
	apply(post)
	post.UpdatedAt = time.Now()
	return nil
}
