package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero max disables that throttle.
type Config struct {
	Prefix                 string
	MaxLoginFailuresPerIP  int
	LoginWindow            time.Duration
	MaxRefreshesPerSession int
	RefreshWindow          time.Duration
}

// Limiter throttles login failures per client IP and refreshes per session
// using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "wr"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) loginIPKey(ip string) string        { return l.config.Prefix + ":li:" + ip }
func (l *Limiter) refreshKey(sessionID string) string { return l.config.Prefix + ":r:" + sessionID }

// CheckLogin reports ErrRateLimited once ip has used up its failure budget.
// It does not count the attempt.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if l.config.MaxLoginFailuresPerIP <= 0 {
		return nil
	}
	return l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginFailuresPerIP)
}

// RecordLoginFailure counts one failed login from ip.
func (l *Limiter) RecordLoginFailure(ctx context.Context, ip string) error {
	if l.config.MaxLoginFailuresPerIP <= 0 {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginWindow)
	return err
}

// ResetLogin clears the failure counter for ip after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, ip string) error {
	if l.config.MaxLoginFailuresPerIP <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginIPKey(ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRefresh counts a refresh for sessionID and enforces the window limit.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if l.config.MaxRefreshesPerSession <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.refreshKey(sessionID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshesPerSession) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
