package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewSendLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("chat"))
	assert.True(t, rl.Allow("chat"))
	assert.False(t, rl.Allow("chat"))
	assert.True(t, rl.Allow("event"), "keys are limited independently")

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("chat"))
}

func TestSendLimiterDisabled(t *testing.T) {
	rl := NewSendLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("chat"))
	}
	var nilLimiter *SendLimiter
	assert.True(t, nilLimiter.Allow("chat"))
}
