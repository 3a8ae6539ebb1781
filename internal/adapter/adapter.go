// Package adapter defines the pluggable platform publishing contract and
// the registry that resolves a destination to its adapter. Adapters own
// the platform's wire mechanics; the core only sees the uniform result.
package adapter

import (
	"context"

	"syndicate/internal/external"
)

// PublishRequest carries the resolved content and an idempotency token
// the adapter may forward so the platform can suppress duplicates on
// redelivery. Honoring the token is platform-dependent.
type PublishRequest struct {
	// Platform is the destination platform name; brokers use it to route
	// the fan-out.
	Platform         string
	Content          *external.ContentPiece
	IdempotencyToken string
}

// PublishResult is the uniform success payload.
type PublishResult struct {
	PlatformPostID string
	PlatformURL    string
}

// Engagement is a point-in-time measurement of a published post.
type Engagement struct {
	Likes       int64
	Comments    int64
	Shares      int64
	Impressions int64
}

// Adapter publishes content to one destination platform.
type Adapter interface {
	PlatformName() string
	Publish(ctx context.Context, req PublishRequest, creds *external.Credentials) (*PublishResult, error)
}

// EngagementReader is an optional adapter capability used by the
// analytics collector. Adapters without it yield zero samples.
type EngagementReader interface {
	Engagement(ctx context.Context, platformPostID string, creds *external.Credentials) (*Engagement, error)
}
