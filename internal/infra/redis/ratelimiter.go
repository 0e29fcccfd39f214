package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/ticket-mailer/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ratelimit:smtp"
	window    = time.Second
	minWait   = 5 * time.Millisecond
)

// windowScript counts sends in the current one-second window and refuses once
// the count passes ARGV[1]. Keys expire after two windows.
var windowScript = goredis.NewScript(`
local sent = redis.call("INCR", KEYS[1])
if sent == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if sent > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps sends per relay host per second across every worker
// sharing the same Redis.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	script      *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(
		client,
		int64(limitPerSec),
		time.Now,
		sleepWithContext,
	)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limitPerSec)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
		script:      windowScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, relay string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	host := strings.ToLower(strings.TrimSpace(relay))
	if host == "" {
		return false, fmt.Errorf("relay host is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := windowKey(host, r.now())
	result, err := r.script.Run(ctx, r.client, []string{key}, r.limitPerSec, (2 * window).Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait retries Allow at each window boundary until a slot frees up.
func (r *RedisRateLimiter) Wait(ctx context.Context, relay string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, err := r.Allow(ctx, relay)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, untilNextWindow(r.now())); err != nil {
			return err
		}
	}
}

func untilNextWindow(now time.Time) time.Duration {
	wait := now.Truncate(window).Add(window).Sub(now)
	if wait < minWait {
		wait = minWait
	}
	return wait
}

func windowKey(host string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, host, at.UTC().Unix())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
