package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayExponential(t *testing.T) {
	p := NewPolicy(60 * time.Second)

	assert.Equal(t, 60*time.Second, p.NextDelay(0))
	assert.Equal(t, 120*time.Second, p.NextDelay(1))
	assert.Equal(t, 240*time.Second, p.NextDelay(2))
}

func TestNextDelayMonotonic(t *testing.T) {
	p := NewPolicy(time.Second)

	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		d := p.NextDelay(attempt)
		assert.Greater(t, d, prev, "delay must strictly increase at attempt %d", attempt)
		prev = d
	}
}

func TestNextDelayNegativeAttempt(t *testing.T) {
	p := NewPolicy(time.Second)
	assert.Equal(t, time.Second, p.NextDelay(-3))
}

func TestShouldRetry(t *testing.T) {
	p := NewPolicy(0)

	assert.True(t, p.ShouldRetry(0, 3))
	assert.True(t, p.ShouldRetry(2, 3))
	assert.False(t, p.ShouldRetry(3, 3))
	assert.False(t, p.ShouldRetry(4, 3))
}

func TestNewPolicyDefault(t *testing.T) {
	assert.Equal(t, DefaultBaseDelay, NewPolicy(0).BaseDelay)
	assert.Equal(t, time.Minute, NewPolicy(time.Minute).BaseDelay)
}
