package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/server"
	"ezmcp/pkg/ezmcp/transport"
)

// RateLimited is the JSON-RPC error code returned when a client exceeds its
// request budget
const RateLimited = -32002

// Limiter decides whether a keyed request may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// tokenBucket tracks one client's budget for the in-memory limiter
type tokenBucket struct {
	tokens float64
	last   time.Time
}

// TokenBucketLimiter is an in-process token bucket limiter. Each key refills
// at Rate tokens per second up to Burst; a request spends one token. Suitable
// for single-process deployments.
type TokenBucketLimiter struct {
	rate    float64
	burst   float64
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

// NewTokenBucketLimiter creates an in-memory token bucket limiter
func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = int(rate)
	}
	return &TokenBucketLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// Allow implements the Limiter interface
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &tokenBucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RedisLimiter is a sliding window limiter backed by Redis, for deployments
// where several server processes share one budget per client.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a Redis-backed sliding window limiter allowing
// limit requests per window per key
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ezmcp:ratelimit:",
	}
}

// Allow implements the Limiter interface. The window is a sorted set of
// request timestamps; expired entries are trimmed before counting.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	fullKey := l.prefix + key
	cutoff := now.Add(-l.window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	count := pipe.ZCard(ctx, fullKey)
	pipe.ZAdd(ctx, fullKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, fullKey, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return count.Val() < l.limit, nil
}

// RateLimit throttles requests per client key. The key is the X-API-Key
// header when present, else the carrying request's X-Forwarded-For, else a
// shared anonymous key. A limiter failure is logged and the request allowed
// through; throttling should degrade open, not take the server down with its
// backend.
type RateLimit struct {
	limiter Limiter
	logger  *slog.Logger
}

// NewRateLimit creates a rate limiting middleware over the given limiter
func NewRateLimit(limiter Limiter, logger *slog.Logger) *RateLimit {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimit{
		limiter: limiter,
		logger:  logger,
	}
}

// Process implements the server.Middleware interface
func (m *RateLimit) Process(ctx context.Context, req *protocol.JSONRPCRequest, next server.Handler) (*protocol.JSONRPCResponse, error) {
	key := clientKey(ctx)

	allowed, err := m.limiter.Allow(ctx, key)
	if err != nil {
		m.logger.ErrorContext(ctx, "rate limiter unavailable",
			"method", req.Method,
			"error", err)
		return next(ctx, req)
	}
	if !allowed {
		m.logger.WarnContext(ctx, "request rate limited",
			"method", req.Method,
			"key", key)
		return protocol.NewErrorResponse(req.ID, RateLimited, "Rate limit exceeded", nil), nil
	}

	return next(ctx, req)
}

// clientKey derives the throttling key from transport headers
func clientKey(ctx context.Context) string {
	headers, ok := transport.HeadersFromContext(ctx)
	if !ok {
		return "anonymous"
	}
	if key := headers.Get("X-API-Key"); key != "" {
		return key
	}
	if fwd := headers.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return "anonymous"
}
