package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openloom/llmgate/internal/metrics"
	"github.com/openloom/llmgate/pkg/types"
)

// fixedWindowScript checks and conditionally increments one fixed window.
// The window key and counter key share a hash tag so they land on the same
// cluster node. The increment is skipped entirely when it would exceed the
// ceiling, so rejected requests never consume window budget.
//
// KEYS[1] = window start key, KEYS[2] = counter key
// ARGV[1] = now (unix seconds), ARGV[2] = window length (seconds), ARGV[3] = ceiling
// Returns {window_start, count_after, allowed(0|1)}.
const fixedWindowScript = `
local now = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])
local ceiling = tonumber(ARGV[3])

local window_start = redis.call('GET', KEYS[1])
if not window_start or (now - tonumber(window_start)) >= window_size then
    window_start = now
    redis.call('SET', KEYS[1], tostring(now))
    redis.call('SET', KEYS[2], 0)
    redis.call('EXPIRE', KEYS[1], window_size)
    redis.call('EXPIRE', KEYS[2], window_size)
else
    window_start = tonumber(window_start)
end

local count = tonumber(redis.call('GET', KEYS[2]) or '0')
if count + 1 > ceiling then
    return {window_start, count, 0}
end

count = redis.call('INCR', KEYS[2])
if redis.call('TTL', KEYS[2]) == -1 then
    redis.call('EXPIRE', KEYS[2], window_size)
end
return {window_start, count, 1}
`

// RedisLimiter enforces fixed windows in Redis so that every gateway replica
// counts against the same window. On backend errors it falls back to the
// local limiter when one is configured, and otherwise fails open or closed
// per configuration.
type RedisLimiter struct {
	client   redis.UniversalClient
	script   *redis.Script
	cfg      Config
	fallback *WindowLimiter
	logger   *slog.Logger
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter.
// fallback may be nil; then backend errors resolve via cfg.FailOpen.
func NewRedisLimiter(client redis.UniversalClient, cfg Config, fallback *WindowLimiter) *RedisLimiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Windows == nil {
		cfg.Windows = DefaultConfig().Windows
	}
	return &RedisLimiter{
		client:   client,
		script:   redis.NewScript(fixedWindowScript),
		cfg:      cfg,
		fallback: fallback,
		logger:   logger,
	}
}

// Check runs the fixed-window script for (principal, class).
func (l *RedisLimiter) Check(ctx context.Context, principal *types.Principal, class Class) (Decision, error) {
	ceiling := l.cfg.ceiling(principal.Tier, class)
	if ceiling <= 0 {
		return Decision{Allowed: true}, nil
	}
	length := l.cfg.window(class)

	// Hash tag keeps both keys on the same node.
	tag := fmt.Sprintf("{%s:%s}", principal.ID, class)
	keys := []string{tag + ":window", tag + ":count"}
	now := time.Now()

	val, err := l.script.Run(ctx, l.client, keys, now.Unix(), int64(length.Seconds()), ceiling).Result()
	if err != nil {
		return l.handleBackendError(ctx, principal, class, err)
	}

	results, ok := val.([]interface{})
	if !ok || len(results) != 3 {
		return l.handleBackendError(ctx, principal, class,
			fmt.Errorf("unexpected script result: %v", val))
	}

	windowStart := toInt64(results[0])
	count := toInt64(results[1])
	allowed := toInt64(results[2]) == 1

	resetAt := time.Unix(windowStart, 0).Add(length)
	remaining := ceiling - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   allowed,
		Limit:     ceiling,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		d.RetryAfter = time.Until(resetAt)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}

func (l *RedisLimiter) handleBackendError(ctx context.Context, principal *types.Principal, class Class, err error) (Decision, error) {
	if l.fallback != nil {
		metrics.RateLimitBackendErrors.WithLabelValues("fallback").Inc()
		l.logger.Warn("redis rate limiter unavailable, using local fallback",
			"error", err, "principal", principal.ID, "class", string(class))
		return l.fallback.Check(ctx, principal, class)
	}

	action := "deny"
	if l.cfg.FailOpen {
		action = "allow"
	}
	metrics.RateLimitBackendErrors.WithLabelValues(action).Inc()
	l.logger.Warn("redis rate limiter check failed",
		"error", err, "fail_open", l.cfg.FailOpen, "action", action)

	if l.cfg.FailOpen {
		return Decision{Allowed: true}, err
	}
	return Decision{Allowed: false, RetryAfter: time.Minute}, err
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	case float64:
		return int64(n)
	default:
		parsed, _ := strconv.ParseInt(fmt.Sprintf("%v", n), 10, 64)
		return parsed
	}
}
