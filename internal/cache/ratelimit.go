package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// rateLimitIPPrefix is the Redis key prefix for per-IP submit limits.
	rateLimitIPPrefix = "ratelimit:submit:ip:"
	// rateLimitClientPrefix is the Redis key prefix for per-client submit limits.
	rateLimitClientPrefix = "ratelimit:submit:client:"
	// rateLimitTTL is the TTL for rate limit buckets.
	rateLimitTTL = 60 * time.Second
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and consumes a token bucket atomically.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per second
	local burst = tonumber(ARGV[2])     -- bucket capacity
	local now = tonumber(ARGV[3])       -- seconds
	local ttl = tonumber(ARGV[4])       -- seconds

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	tokens = math.min(burst, tokens + ((now - last_update) * rate))

	local allowed = 0
	local retry_after = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_after = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// CheckIPRateLimit consumes one submit token for an IP address.
// The IP is hashed so raw addresses are never stored.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	return c.checkRateLimit(ctx, rateLimitIPPrefix+hashIP(ip), float64(ratePerSecond), burst)
}

// CheckClientRateLimit consumes one submit token for a client identity.
func (c *Cache) CheckClientRateLimit(ctx context.Context, clientID string, ratePerSecond, burst int) (*RateLimitResult, error) {
	return c.checkRateLimit(ctx, rateLimitClientPrefix+clientID, float64(ratePerSecond), burst)
}

func (c *Cache) checkRateLimit(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	now := c.now()
	if rate <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: now.Add(time.Minute)}, nil
	}

	result, err := tokenBucketScript.Run(ctx, c.client,
		[]string{key},
		rate, burst, now.Unix(), int(rateLimitTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		// Fail open on Redis errors
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: now.Add(time.Minute)}, nil
	}

	return &RateLimitResult{
		Allowed:    result[0] == 1,
		Remaining:  result[2],
		ResetAt:    now.Add(time.Duration(float64(time.Second) / rate)),
		RetryAfter: time.Duration(result[1]) * time.Second,
	}, nil
}

// hashIP creates a truncated SHA256 hash of an IP address.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
