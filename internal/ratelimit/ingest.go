package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterbill/internal/config"
)

const keyIngestApp = "usage:ingest:app:%s"

// IngestLimiter throttles usage ingestion per app. Disabled limiters
// allow everything, so the server wires it unconditionally.
type IngestLimiter struct {
	enabled bool

	bucket   *TokenBucket
	appRate  float64
	appBurst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return &IngestLimiter{}, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.AppRate <= 0 || limitCfg.AppBurst <= 0 {
		return nil, errors.New("app rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		enabled:  true,
		bucket:   NewTokenBucket(client),
		appRate:  limitCfg.AppRate,
		appBurst: limitCfg.AppBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowApp takes one ingest token for the app. Always allows when the
// limiter is disabled.
func (l *IngestLimiter) AllowApp(ctx context.Context, appID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIngestApp, strings.TrimSpace(appID))
	return l.bucket.Allow(ctx, key, l.appRate, l.appBurst)
}
