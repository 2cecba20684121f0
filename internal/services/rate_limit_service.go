package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/BradenHooton/totpguard/internal/models"
)

// RateLimitPolicy is a sliding window: at most Limit accepted calls per key within
// any Window long interval
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// ForgotRateLimitPolicy caps recovery emails per client address
var ForgotRateLimitPolicy = RateLimitPolicy{Limit: 3, Window: 15 * time.Minute}

// RateLimitDecision is the outcome of one Consume call
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitError is returned when a caller is over its window. It matches
// models.ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry in %s", models.ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return models.ErrRateLimited
}

// SlidingWindowLimiter checks and records a call in one atomic step
type SlidingWindowLimiter interface {
	Consume(ctx context.Context, key string) (RateLimitDecision, error)
}

// MemorySlidingWindowLimiter keeps a timestamp log per key. Only suitable when a
// single process serves the endpoint.
type MemorySlidingWindowLimiter struct {
	mu     sync.Mutex
	policy RateLimitPolicy
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewMemorySlidingWindowLimiter creates an in-process limiter
func NewMemorySlidingWindowLimiter(policy RateLimitPolicy) *MemorySlidingWindowLimiter {
	return &MemorySlidingWindowLimiter{
		policy: policy,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Consume accepts the call when fewer than Limit calls were accepted for key in the
// trailing window
func (l *MemorySlidingWindowLimiter) Consume(ctx context.Context, key string) (RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	log := l.live(key, now)

	if len(log) >= l.policy.Limit {
		l.hits[key] = log
		return RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: log[0].Add(l.policy.Window).Sub(now),
		}, nil
	}

	log = append(log, now)
	l.hits[key] = log
	return RateLimitDecision{
		Allowed:   true,
		Remaining: l.policy.Limit - len(log),
	}, nil
}

// live returns the timestamps of key still inside the window ending at now
func (l *MemorySlidingWindowLimiter) live(key string, now time.Time) []time.Time {
	log := l.hits[key]
	cutoff := now.Add(-l.policy.Window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

// Prune drops keys with no call inside the window. Returns the number of keys removed.
func (l *MemorySlidingWindowLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key := range l.hits {
		if live := l.live(key, now); len(live) == 0 {
			delete(l.hits, key)
			removed++
		} else {
			l.hits[key] = live
		}
	}
	return removed
}

// Keys returns the number of tracked keys
func (l *MemorySlidingWindowLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// slidingWindowScript trims the log, checks the count and records the call in one
// server-side step. Returns {allowed, count, oldestScore}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisSlidingWindowLimiter shares the window across every instance through a
// sorted set per key
type RedisSlidingWindowLimiter struct {
	redis  *redis.Client
	policy RateLimitPolicy
	prefix string
	now    func() time.Time
}

// NewRedisSlidingWindowLimiter creates a Redis-backed limiter
func NewRedisSlidingWindowLimiter(client *redis.Client, policy RateLimitPolicy, prefix string) *RedisSlidingWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisSlidingWindowLimiter{
		redis:  client,
		policy: policy,
		prefix: prefix,
		now:    time.Now,
	}
}

// Consume runs the window script. Redis errors are returned with Allowed=false:
// an unreachable store must not reopen the email endpoint to abuse.
func (l *RedisSlidingWindowLimiter) Consume(ctx context.Context, key string) (RateLimitDecision, error) {
	now := l.now().UnixMilli()
	window := l.policy.Window.Milliseconds()

	res, err := slidingWindowScript.Run(ctx, l.redis,
		[]string{l.prefix + ":" + key},
		now, window, l.policy.Limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return RateLimitDecision{Allowed: false}, fmt.Errorf("redis rate limit error: %w", err)
	}
	if len(res) != 3 {
		return RateLimitDecision{Allowed: false}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	if res[0] == 0 {
		retry := time.Duration(res[2]+window-now) * time.Millisecond
		if retry < 0 {
			retry = 0
		}
		return RateLimitDecision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	return RateLimitDecision{
		Allowed:   true,
		Remaining: l.policy.Limit - int(res[1]),
	}, nil
}
