package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per key.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewLocalRateLimiter(perSecond int) (*LocalRateLimiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", perSecond)
	}

	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    perSecond,
	}, nil
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	limiter, err := l.limiterFor(key)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	limiter, err := l.limiterFor(key)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiterFor(key string) (*rate.Limiter, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[normalized]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[normalized] = limiter
	}
	return limiter, nil
}
