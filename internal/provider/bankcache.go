package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BankCache fronts ListBanks with a process-local cache and an optional
// shared Redis cache. Concurrent misses for the same key share one fetch.
type BankCache struct {
	local  *cache.Cache
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewBankCache builds a cache. rdb may be nil.
func NewBankCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *BankCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &BankCache{
		local:  cache.New(ttl, 2*ttl),
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func bankKey(slug, country, currency string) string {
	return "banks:" + slug + ":" + strings.ToLower(country) + ":" + strings.ToUpper(currency)
}

// ListBanks returns p's bank list, fetching it on a miss.
func (c *BankCache) ListBanks(ctx context.Context, p PayoutProvider, country, currency string) ([]Bank, error) {
	key := bankKey(p.Slug(), country, currency)
	if v, ok := c.local.Get(key); ok {
		return v.([]Bank), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if banks, ok := c.fromRedis(ctx, key); ok {
			c.local.Set(key, banks, cache.DefaultExpiration)
			return banks, nil
		}

		banks, err := p.ListBanks(ctx, country, currency)
		if err != nil {
			return nil, err
		}
		c.local.Set(key, banks, cache.DefaultExpiration)
		c.toRedis(ctx, key, banks)
		return banks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Bank), nil
}

// Invalidate drops a cached list from both layers.
func (c *BankCache) Invalidate(ctx context.Context, slug, country, currency string) {
	key := bankKey(slug, country, currency)
	c.local.Delete(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("bank cache invalidate failed", "key", key, "error", err)
		}
	}
}

func (c *BankCache) fromRedis(ctx context.Context, key string) ([]Bank, bool) {
	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("bank cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var banks []Bank
	if err := json.Unmarshal(raw, &banks); err != nil {
		c.logger.Warn("bank cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return banks, true
}

func (c *BankCache) toRedis(ctx context.Context, key string, banks []Bank) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(banks)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("bank cache write failed", "key", key, "error", err)
	}
}
