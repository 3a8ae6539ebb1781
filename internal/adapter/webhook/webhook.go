// Package webhook is a generic broker adapter: it forwards publish
// requests as JSON to a scheduling intermediary that fans out to the
// destination platform itself.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"syndicate/internal/adapter"
	"syndicate/internal/external"
)

// Config points the adapter at the broker endpoint.
type Config struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type publishRequest struct {
	Platform         string   `json:"platform"`
	Body             string   `json:"body"`
	MediaURLs        []string `json:"media_urls,omitempty"`
	IdempotencyToken string   `json:"idempotency_token,omitempty"`
}

type publishResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type engagementResponse struct {
	Likes       int64 `json:"likes"`
	Comments    int64 `json:"comments"`
	Shares      int64 `json:"shares"`
	Impressions int64 `json:"impressions"`
}

// Broker publishes through a webhook-speaking intermediary.
type Broker struct {
	name   string
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewBroker(cfg Config, logger *zap.Logger) *Broker {
	return &Broker{
		name:   cfg.Name,
		url:    cfg.URL,
		logger: logger,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (b *Broker) PlatformName() string {
	return b.name
}

func (b *Broker) Publish(ctx context.Context, req adapter.PublishRequest, creds *external.Credentials) (*adapter.PublishResult, error) {
	payload := publishRequest{
		Platform:         req.Platform,
		Body:             req.Content.Body,
		MediaURLs:        req.Content.MediaURLs,
		IdempotencyToken: req.IdempotencyToken,
	}

	var resp publishResponse
	if err := b.post(ctx, b.url+"/v1/posts", payload, creds, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("broker %s returned no post id", b.name)
	}

	b.logger.Info("Broker accepted post",
		zap.String("broker", b.name),
		zap.String("platform_post_id", resp.ID))

	return &adapter.PublishResult{
		PlatformPostID: resp.ID,
		PlatformURL:    resp.URL,
	}, nil
}

// Engagement implements the optional analytics capability.
func (b *Broker) Engagement(ctx context.Context, platformPostID string, creds *external.Credentials) (*adapter.Engagement, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/posts/%s/engagement", b.url, platformPostID), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("broker %s engagement request: %w", b.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("broker %s engagement status %d: %s", b.name, httpResp.StatusCode, body)
	}

	var resp engagementResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("broker %s engagement decode: %w", b.name, err)
	}
	return &adapter.Engagement{
		Likes:       resp.Likes,
		Comments:    resp.Comments,
		Shares:      resp.Shares,
		Impressions: resp.Impressions,
	}, nil
}

func (b *Broker) post(ctx context.Context, url string, payload any, creds *external.Credentials, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("broker %s request: %w", b.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("broker %s status %d: %s", b.name, httpResp.StatusCode, respBody)
	}

	return json.NewDecoder(httpResp.Body).Decode(out)
}
