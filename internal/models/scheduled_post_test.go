package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostStatusTerminal(t *testing.T) {
	assert.True(t, PostStatusPublished.Terminal())
	assert.True(t, PostStatusFailed.Terminal())
	assert.True(t, PostStatusCancelled.Terminal())

	assert.False(t, PostStatusScheduled.Terminal())
	assert.False(t, PostStatusPublishing.Terminal())
	assert.False(t, PostStatusRetrying.Terminal())
}

func TestPostStatusTransitions(t *testing.T) {
	cases := []struct {
		from    PostStatus
		to      PostStatus
		allowed bool
	}{
		{PostStatusScheduled, PostStatusPublishing, true},
		{PostStatusScheduled, PostStatusCancelled, true},
		{PostStatusScheduled, PostStatusPublished, false},
		{PostStatusPublishing, PostStatusPublished, true},
		{PostStatusPublishing, PostStatusRetrying, true},
		{PostStatusPublishing, PostStatusFailed, true},
		{PostStatusPublishing, PostStatusCancelled, false},
		{PostStatusRetrying, PostStatusPublishing, true},
		{PostStatusRetrying, PostStatusCancelled, true},
		{PostStatusRetrying, PostStatusFailed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	for _, terminal := range []PostStatus{PostStatusPublished, PostStatusFailed, PostStatusCancelled} {
		for _, next := range AllPostStatuses {
			assert.False(t, terminal.CanTransitionTo(next),
				"terminal state %s must not transition to %s", terminal, next)
		}
	}
}
