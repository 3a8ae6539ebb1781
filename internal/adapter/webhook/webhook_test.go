package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syndicate/internal/adapter"
	"syndicate/internal/external"
)

func testCreds() *external.Credentials {
	return &external.Credentials{AccessToken: "tok-123"}
}

func TestBrokerPublish(t *testing.T) {
	var got publishRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/posts", r.URL.Path)
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(publishResponse{ID: "b-42", URL: "https://example.com/b-42"})
	}))
	defer srv.Close()

	b := NewBroker(Config{Name: "buffer", URL: srv.URL}, zap.NewNop())
	result, err := b.Publish(context.Background(), adapter.PublishRequest{
		Platform:         "mastodon",
		Content:          &external.ContentPiece{Body: "hello", MediaURLs: []string{"https://cdn/x.png"}},
		IdempotencyToken: "post-1",
	}, testCreds())

	require.NoError(t, err)
	assert.Equal(t, "b-42", result.PlatformPostID)
	assert.Equal(t, "https://example.com/b-42", result.PlatformURL)

	assert.Equal(t, "mastodon", got.Platform)
	assert.Equal(t, "hello", got.Body)
	assert.Equal(t, "post-1", got.IdempotencyToken)
}

func TestBrokerPublishRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(publishResponse{})
	}))
	defer srv.Close()

	b := NewBroker(Config{Name: "buffer", URL: srv.URL}, zap.NewNop())
	_, err := b.Publish(context.Background(), adapter.PublishRequest{
		Content: &external.ContentPiece{Body: "hello"},
	}, testCreds())
	assert.Error(t, err)
}

func TestBrokerPublishErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBroker(Config{Name: "buffer", URL: srv.URL}, zap.NewNop())
	_, err := b.Publish(context.Background(), adapter.PublishRequest{
		Content: &external.ContentPiece{Body: "hello"},
	}, testCreds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestBrokerEngagement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/posts/b-42/engagement", r.URL.Path)
		json.NewEncoder(w).Encode(engagementResponse{Likes: 7, Impressions: 300})
	}))
	defer srv.Close()

	b := NewBroker(Config{Name: "buffer", URL: srv.URL}, zap.NewNop())
	engagement, err := b.Engagement(context.Background(), "b-42", testCreds())
	require.NoError(t, err)
	assert.Equal(t, int64(7), engagement.Likes)
	assert.Equal(t, int64(300), engagement.Impressions)
}
