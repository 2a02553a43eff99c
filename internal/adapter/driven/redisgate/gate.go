// Package redisgate shares the ERP request pacing and daily budget between
// processes through Redis.
package redisgate

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

var errDailyBudgetSpent = errors.New("shared daily request budget spent")

// reserveScript atomically reserves the next send slot.
// KEYS[1] next allowed send time (unix ms), KEYS[2] today's request counter.
// ARGV: now ms, interval ms, daily limit (0 = unlimited), counter TTL seconds.
// Returns the number of ms to wait, or -1 when the daily budget is spent.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

if limit > 0 then
  local used = tonumber(redis.call('GET', KEYS[2]) or '0')
  if used >= limit then
    return -1
  end
end

local slot = now
local nextAt = tonumber(redis.call('GET', KEYS[1]) or '0')
if nextAt > slot then
  slot = nextAt
end

redis.call('SET', KEYS[1], slot + interval, 'PX', (slot - now) + interval + 1000)

if limit > 0 then
  redis.call('INCR', KEYS[2])
  redis.call('EXPIRE', KEYS[2], ttl)
end

return slot - now
`)

// Config holds the Redis connection and pacing settings.
type Config struct {
	Addr       string
	Password   string
	DB         int
	EnableTLS  bool
	KeyPrefix  string
	Interval   time.Duration
	DailyLimit int
}

// NewClient creates a go-redis client with conservative timeouts.
func NewClient(cfg Config) *redis.Client {
	options := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
	if cfg.EnableTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(options)
}

// Gate is a Redis-backed pacing gate. Slots are reserved atomically so callers
// in different processes are spaced by Interval.
type Gate struct {
	client     redis.UniversalClient
	prefix     string
	interval   time.Duration
	dailyLimit int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate creates a Gate using client.
func NewGate(client redis.UniversalClient, cfg Config) *Gate {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "erpsync:pacer"
	}
	return &Gate{
		client:     client,
		prefix:     prefix,
		interval:   cfg.Interval,
		dailyLimit: cfg.DailyLimit,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Wait reserves the next slot and sleeps until it arrives.
func (g *Gate) Wait(ctx context.Context) error {
	now := g.now()
	keys := []string{
		g.prefix + ":next",
		g.prefix + ":day:" + now.UTC().Format(time.DateOnly),
	}
	args := []any{
		now.UnixMilli(),
		g.interval.Milliseconds(),
		g.dailyLimit,
		int((48 * time.Hour).Seconds()),
	}

	waitMS, err := reserveScript.Run(ctx, g.client, keys, args...).Int64()
	if err != nil {
		return &driven.APIError{Kind: driven.ErrUnreachable, Err: fmt.Errorf("reserve pacing slot: %w", err)}
	}
	if waitMS < 0 {
		return &driven.APIError{Kind: driven.ErrRateLimited, Err: errDailyBudgetSpent}
	}
	if waitMS == 0 {
		return nil
	}

	return g.sleep(ctx, time.Duration(waitMS)*time.Millisecond)
}

// Used returns the shared request count for the current UTC day.
func (g *Gate) Used(ctx context.Context) (int, error) {
	key := g.prefix + ":day:" + g.now().UTC().Format(time.DateOnly)
	n, err := g.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read request counter: %w", err)
	}
	return n, nil
}

// Ping verifies the Redis connection.
func (g *Gate) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
