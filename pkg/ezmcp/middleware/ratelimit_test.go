package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezmcp/pkg/ezmcp/protocol"
)

func TestTokenBucketLimiterBurst(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within burst", i)
	}

	allowed, err := limiter.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, allowed, "burst exhausted")
}

func TestTokenBucketLimiterRefill(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 1)
	ctx := context.Background()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	allowed, _ := limiter.Allow(ctx, "client")
	require.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "client")
	require.False(t, allowed)

	// 200ms at 10 tokens/s refills two tokens, capped at burst 1
	now = now.Add(200 * time.Millisecond)
	allowed, _ = limiter.Allow(ctx, "client")
	assert.True(t, allowed)
}

func TestTokenBucketLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 1)
	ctx := context.Background()

	allowed, _ := limiter.Allow(ctx, "alice")
	require.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "alice")
	require.False(t, allowed)

	allowed, _ = limiter.Allow(ctx, "bob")
	assert.True(t, allowed, "a different key has its own bucket")
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimit(NewTokenBucketLimiter(1, 2), nil)
	req := &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call"}

	ctx := ctxWithHeaders(map[string]string{"X-API-Key": "client"})

	for i := 0; i < 2; i++ {
		resp, err := rl.Process(ctx, req, okNext)
		require.NoError(t, err)
		assert.Nil(t, resp.Error)
	}

	resp, err := rl.Process(ctx, req, okNext)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, RateLimited, resp.Error.Code)
}

// failingLimiter simulates a broken backend
type failingLimiter struct{}

func (failingLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return false, assert.AnError
}

func TestRateLimitDegradesOpen(t *testing.T) {
	rl := NewRateLimit(failingLimiter{}, nil)
	req := &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call"}

	resp, err := rl.Process(context.Background(), req, okNext)
	require.NoError(t, err)
	assert.Nil(t, resp.Error, "limiter failure must not block requests")
}
