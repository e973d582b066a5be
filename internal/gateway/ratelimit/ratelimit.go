// Package ratelimit implements a fixed-window request limit per client identity.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/internal/common/redis"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration // time until the current window closes
}

// Limiter decides whether a client may make another request
type Limiter interface {
	Allow(ctx context.Context, identity string) (Decision, error)
}

// New builds the limiter selected by cfg.Backend. A disabled limit returns
// a limiter that allows everything.
func New(cfg configtypes.RateLimitConfig, redisClient *redis.Client, logger *zap.Logger) (Limiter, error) {
	if !cfg.Enabled {
		logger.Info("Rate limiting disabled")
		return Unlimited{}, nil
	}

	window := cfg.Window.ToDuration()
	if cfg.Requests < 1 || window <= 0 {
		return nil, fmt.Errorf("rate limit needs positive requests and window, got %d per %s", cfg.Requests, window)
	}

	switch cfg.Backend {
	case "", configtypes.RateLimitBackendMemory:
		logger.Info("Rate limiting enabled",
			zap.String("backend", configtypes.RateLimitBackendMemory),
			zap.Int("requests", cfg.Requests),
			zap.Duration("window", window))
		return NewMemoryLimiter(cfg.Requests, window), nil
	case configtypes.RateLimitBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis rate limit backend requires a redis connection")
		}
		logger.Info("Rate limiting enabled",
			zap.String("backend", configtypes.RateLimitBackendRedis),
			zap.Int("requests", cfg.Requests),
			zap.Duration("window", window))
		return NewRedisLimiter(redisClient, cfg.Requests, window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

// Unlimited allows every request
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
