package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndicate/internal/external"
)

type stubAdapter struct {
	name string
}

func (s stubAdapter) PlatformName() string { return s.name }

func (s stubAdapter) Publish(context.Context, PublishRequest, *external.Credentials) (*PublishResult, error) {
	return &PublishResult{PlatformPostID: s.name + "-1"}, nil
}

func TestRegistryResolveDirect(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: "mastodon"}))

	a, err := r.Resolve("mastodon", "")
	require.NoError(t, err)
	assert.Equal(t, "mastodon", a.PlatformName())

	_, err = r.Resolve("linkedin", "")
	assert.Error(t, err)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: "mastodon"}))
	assert.Error(t, r.Register(stubAdapter{name: "mastodon"}))

	require.NoError(t, r.RegisterBroker("buffer", stubAdapter{name: "buffer"}))
	assert.Error(t, r.RegisterBroker("buffer", stubAdapter{name: "buffer"}))
}

func TestRegistryBrokerPrecedence(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: "mastodon"}))
	require.NoError(t, r.RegisterBroker("buffer", stubAdapter{name: "buffer"}))

	// A broker-managed account resolves through the broker even when a
	// direct integration exists for the platform.
	a, err := r.Resolve("mastodon", "buffer")
	require.NoError(t, err)
	assert.Equal(t, "buffer", a.PlatformName())

	_, err = r.Resolve("mastodon", "unknown-broker")
	assert.Error(t, err)
}

func TestRegistryPlatforms(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: "mastodon"}))
	require.NoError(t, r.Register(stubAdapter{name: "linkedin"}))

	assert.ElementsMatch(t, []string{"mastodon", "linkedin"}, r.Platforms())
}
