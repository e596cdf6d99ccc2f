// Package ratelimit flags clients that probe the tracking surface with
// unknown tokens. Counters live in Redis so every replica shares them.
// Flagging never suppresses recording of a known token.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ProbeGuard interface {
	// Exceeded reports whether ip has reached the miss limit in the current window.
	Exceeded(ctx context.Context, ip string) bool
	// RecordMiss counts one unknown-token request from ip.
	RecordMiss(ctx context.Context, ip string)
}

type RedisProbeGuard struct {
	Client redis.Cmdable
	Limit  int
	Window time.Duration
	Logger *zap.Logger
}

func NewRedisProbeGuard(client redis.Cmdable, limit int, window time.Duration, logger *zap.Logger) *RedisProbeGuard {
	return &RedisProbeGuard{Client: client, Limit: limit, Window: window, Logger: logger}
}

func key(ip string) string {
	return "phishguard:probe:" + ip
}

// Exceeded fails open: a Redis error never flags a client.
func (g *RedisProbeGuard) Exceeded(ctx context.Context, ip string) bool {
	n, err := g.Client.Get(ctx, key(ip)).Int()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		g.Logger.Warn("probe guard lookup failed", zap.String("ip", ip), zap.Error(err))
		return false
	}
	return n >= g.Limit
}

func (g *RedisProbeGuard) RecordMiss(ctx context.Context, ip string) {
	k := key(ip)
	n, err := g.Client.Incr(ctx, k).Result()
	if err != nil {
		g.Logger.Warn("probe guard increment failed", zap.String("ip", ip), zap.Error(err))
		return
	}
	if n == 1 {
		if err := g.Client.Expire(ctx, k, g.Window).Err(); err != nil {
			g.Logger.Warn("probe guard expire failed", zap.String("ip", ip), zap.Error(err))
		}
	}
}

// NoopGuard never flags.
type NoopGuard struct{}

func (NoopGuard) Exceeded(context.Context, string) bool { return false }
func (NoopGuard) RecordMiss(context.Context, string)   {}

var (
	_ ProbeGuard = (*RedisProbeGuard)(nil)
	_ ProbeGuard = NoopGuard{}
)
