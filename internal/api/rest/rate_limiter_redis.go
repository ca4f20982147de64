package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
)

// CacheRateLimiter implements distributed rate limiting backed by the
// shared Cache adapter, so the HTTP fallback's own throttle shares
// state with every other instance the same way the Admission
// Controller's per-address/per-identity caps do.
type CacheRateLimiter struct {
	cache        cache.Cache
	config       RateLimitConfig
	localLimiter sync.Map // fallback cache used only when the Cache is unreachable
	tracer       trace.Tracer
}

// RateLimitResult contains rate limit check results
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// NewCacheRateLimiter creates a new Cache-backed rate limiter
func NewCacheRateLimiter(c cache.Cache, config RateLimitConfig) *CacheRateLimiter {
	return &CacheRateLimiter{
		cache:  c,
		config: config,
		tracer: otel.Tracer("api.rest.ratelimit"),
	}
}

// CheckLimit checks if a request should be allowed
func (r *CacheRateLimiter) CheckLimit(ctx context.Context, key string) (*RateLimitResult, error) {
	ctx, span := r.tracer.Start(ctx, "ratelimit.check",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("limit", r.config.RequestsPerSecond),
		),
	)
	defer span.End()

	now := time.Now()
	window := now.Truncate(time.Second).Unix()
	cacheKey := fmt.Sprintf("%sfallback:%s:%d", cache.RateLimitPrefix, key, window)

	count, err := r.cache.Increment(ctx, cacheKey)
	if err != nil {
		span.RecordError(err)
		return r.fallbackToLocal(key)
	}

	if count == 1 {
		r.cache.Expire(ctx, cacheKey, 2*time.Second)
	}

	allowed := count <= int64(r.config.RequestsPerSecond)
	remaining := r.config.RequestsPerSecond - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &RateLimitResult{
		Allowed:   allowed,
		Limit:     r.config.RequestsPerSecond,
		Remaining: remaining,
		ResetAt:   time.Unix(window+1, 0),
	}

	if !allowed {
		result.RetryAfter = time.Until(result.ResetAt)
	}

	span.SetAttributes(
		attribute.Bool("allowed", allowed),
		attribute.Int("count", int(count)),
		attribute.Int("remaining", remaining),
	)

	return result, nil
}

// CheckLimitWithCost checks rate limit with variable cost, using a
// sliding window over a sorted set for more accurate accounting than
// the fixed-window counter CheckLimit uses.
func (r *CacheRateLimiter) CheckLimitWithCost(ctx context.Context, key string, cost int) (*RateLimitResult, error) {
	ctx, span := r.tracer.Start(ctx, "ratelimit.check_with_cost",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("cost", cost),
		),
	)
	defer span.End()

	now := time.Now()
	windowStart := float64(now.Add(-time.Second).UnixNano())

	zkey := cache.RateLimitPrefix + "sliding:" + key
	if err := r.cache.ZRemRangeByScore(ctx, zkey, 0, windowStart); err != nil {
		span.RecordError(err)
		return r.fallbackToLocal(key)
	}

	count, err := r.cache.ZCard(ctx, zkey)
	if err != nil {
		span.RecordError(err)
		return r.fallbackToLocal(key)
	}

	if count+int64(cost) > int64(r.config.RequestsPerSecond) {
		return &RateLimitResult{
			Allowed:    false,
			Limit:      r.config.RequestsPerSecond,
			Remaining:  0,
			ResetAt:    now.Add(time.Second),
			RetryAfter: time.Second,
		}, nil
	}

	if err := r.cache.ZAdd(ctx, zkey, float64(now.UnixNano()), uuid.New().String(), 2*time.Second); err != nil {
		span.RecordError(err)
	}

	return &RateLimitResult{
		Allowed:   true,
		Limit:     r.config.RequestsPerSecond,
		Remaining: r.config.RequestsPerSecond - int(count) - cost,
		ResetAt:   now.Add(time.Second),
	}, nil
}

// Reset resets the rate limit for a key
func (r *CacheRateLimiter) Reset(ctx context.Context, key string) error {
	now := time.Now()
	window := now.Truncate(time.Second).Unix()
	cacheKey := fmt.Sprintf("%sfallback:%s:%d", cache.RateLimitPrefix, key, window)
	if err := r.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return r.cache.Delete(ctx, cache.RateLimitPrefix+"sliding:"+key)
}

// Middleware returns a rate limiting middleware
func (r *CacheRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := r.getKey(req)

			result, err := r.CheckLimit(req.Context(), key)
			if err != nil {
				span := trace.SpanFromContext(req.Context())
				span.RecordError(err)
				next.ServeHTTP(w, req)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				writeRateLimitExceeded(w)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

func (r *CacheRateLimiter) getKey(req *http.Request) string {
	if r.config.CustomKeyFunc != nil {
		return r.config.CustomKeyFunc(req)
	}

	var parts []string

	if r.config.ByIP {
		parts = append(parts, getClientIP(req))
	}

	if r.config.ByUser {
		if userID, ok := req.Context().Value(contextKeyUserID).(uuid.UUID); ok {
			parts = append(parts, userID.String())
		}
	}

	if r.config.ByEndpoint {
		parts = append(parts, req.Method, req.URL.Path)
	}

	if len(parts) == 0 {
		parts = append(parts, "global")
	}

	return strings.Join(parts, ":")
}

func (r *CacheRateLimiter) fallbackToLocal(key string) (*RateLimitResult, error) {
	limiterInterface, _ := r.localLimiter.LoadOrStore(key, rate.NewLimiter(
		rate.Limit(r.config.RequestsPerSecond),
		r.config.Burst,
	))
	limiter := limiterInterface.(*rate.Limiter)

	allowed := limiter.Allow()

	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     r.config.RequestsPerSecond,
		Remaining: int(limiter.Tokens()),
		ResetAt:   time.Now().Add(time.Second),
		RetryAfter: func() time.Duration {
			if !allowed {
				return time.Second
			}
			return 0
		}(),
	}, nil
}
