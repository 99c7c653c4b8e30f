package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/pulsetel/simhub/pkg/config"
)

// Cache is a thin redis wrapper used for reconciliation responses and
// currency rates. Get reports a miss as (nil, false, nil); callers treat
// redis outages as misses, never as request failures.
type Cache struct {
	rdb *redis.Client
}

func New(cfg *cfgpkg.Config) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &Cache{rdb: rdb}
}

// NewWithClient wraps an existing client. Tests pass a miniredis-backed one.
func NewWithClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerClose),
)

func registerClose(lc fx.Lifecycle, l *zap.SugaredLogger, c *Cache) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis connection")
			return c.rdb.Close()
		},
	})
}
