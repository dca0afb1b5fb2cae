package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Burst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1, 2, 10, nil)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per IP")
}

func TestRateLimiter_EvictsLeastRecent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1, 1, 2, nil)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("a"))
	// "b" is now least recent and makes room for "c"
	assert.True(t, rl.Allow("c"))
	assert.Equal(t, 2, rl.Tracked())
	// "b" lost its empty bucket
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("c"))
}

func TestRateLimiter_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rl := NewRateLimiter(ctx, 1, 1, 1, nil)
	cancel()

	select {
	case <-rl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
