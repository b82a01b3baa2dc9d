package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior. Zero values take the defaults
// below.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms. Returns 1 when a slot
// was taken, 0 when the limit is reached. The TTL bounds slots leaked by a
// crashed holder.
var acquireSlotScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var releaseSlotScript = redis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

var errNoRedis = errors.New("redis client is nil")

// ConcurrencyCap limits how many operations one owner may have in flight,
// shared across every API replica through a Redis counter per owner.
type ConcurrencyCap struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	ttl    time.Duration
}

// NewConcurrencyCap returns a cap of limit slots per owner under keys
// "<prefix>:<owner>".
func NewConcurrencyCap(rdb redis.Scripter, prefix string, limit int, ttl time.Duration) (*ConcurrencyCap, error) {
	switch {
	case rdb == nil:
		return nil, errNoRedis
	case prefix == "":
		return nil, fmt.Errorf("key prefix is required")
	case limit <= 0:
		return nil, fmt.Errorf("limit must be > 0")
	case ttl <= 0:
		return nil, fmt.Errorf("ttl must be > 0")
	}
	return &ConcurrencyCap{rdb: rdb, prefix: prefix, limit: limit, ttl: ttl}, nil
}

func (c *ConcurrencyCap) key(owner string) string { return c.prefix + ":" + owner }

// Acquire takes a slot for owner. false means the owner is at the limit.
func (c *ConcurrencyCap) Acquire(ctx context.Context, owner string) (bool, error) {
	if owner == "" {
		return false, fmt.Errorf("owner is required")
	}
	res, err := acquireSlotScript.Run(ctx, c.rdb, []string{c.key(owner)}, c.limit, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release returns a slot previously taken by Acquire.
func (c *ConcurrencyCap) Release(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("owner is required")
	}
	return releaseSlotScript.Run(ctx, c.rdb, []string{c.key(owner)}).Err()
}
