package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"tinylink.local/internal/app/tinylink"
	"tinylink.local/internal/platform/metrics"
)

// 负缓存用明确哨兵值，避免缓存穿透。
// 不要用 "" 作哨兵：会把"未命中"和"命中空值"混成一回事。
const notFoundSentinel = "__nil__"

// Redis key 布局：
// - link:<code>          → 目标 URL，有界 TTL（URL 影子）
// - usage_count (zset)   → member=code score=计数，不设 TTL
// - last_used_at:<code>  → RFC3339 时间戳，不设 TTL
const (
	urlKeyPrefix      = "link:"
	usageSetKey       = "usage_count"
	lastUsedKeyPrefix = "last_used_at:"
)

// UsageCache 实现 tinylink.URLCache 和 tinylink.UsageCounter：
// URL 影子走 L1(ristretto)+L2(Redis)，计数与最近使用时间只在 Redis。
// 整个结构都是性能影子：数据丢了只需要一次回源读，不丢已提交的库数据。
type UsageCache struct {
	client   *redis.Client
	local    *LocalCache // L1，可为 nil
	ttl      time.Duration
	emptyTTL time.Duration
}

type Options struct {
	TTL      time.Duration // URL 影子 TTL，默认 1h
	EmptyTTL time.Duration // 负缓存 TTL，默认 30s
}

func New(client *redis.Client, local *LocalCache, opts Options) *UsageCache {
	c := &UsageCache{
		client:   client,
		local:    local,
		ttl:      opts.TTL,
		emptyTTL: opts.EmptyTTL,
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	if c.emptyTTL <= 0 {
		c.emptyTTL = 30 * time.Second
	}
	return c
}

func (c *UsageCache) Get(ctx context.Context, code string) (tinylink.CachedURL, error) {
	// L1: 本地缓存
	if c.local != nil {
		if url, ok := c.local.Get(code); ok {
			if url == notFoundSentinel {
				metrics.CacheOperations.WithLabelValues("l1", "hit_negative").Inc()
				return tinylink.CachedURL{Hit: true, Negative: true}, nil
			}
			metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
			return tinylink.CachedURL{URL: url, Hit: true}, nil
		}
	}

	// L2: Redis
	res, err := c.client.Get(ctx, urlKeyPrefix+code).Result()
	if err == redis.Nil {
		metrics.CacheOperations.WithLabelValues("l2", "miss").Inc()
		return tinylink.CachedURL{}, nil
	}
	if err != nil {
		return tinylink.CachedURL{}, err
	}

	if res == notFoundSentinel {
		metrics.CacheOperations.WithLabelValues("l2", "hit_negative").Inc()
		if c.local != nil {
			c.local.SetNotFound(code)
		}
		return tinylink.CachedURL{Hit: true, Negative: true}, nil
	}
	metrics.CacheOperations.WithLabelValues("l2", "hit").Inc()
	if c.local != nil {
		c.local.Set(code, res)
	}
	return tinylink.CachedURL{URL: res, Hit: true}, nil
}

func (c *UsageCache) Set(ctx context.Context, code, url string) error {
	if c.local != nil {
		c.local.Set(code, url)
	}
	return c.client.Set(ctx, urlKeyPrefix+code, url, c.ttl).Err()
}

func (c *UsageCache) SetNotFound(ctx context.Context, code string) error {
	if c.local != nil {
		c.local.SetNotFound(code)
	}
	return c.client.Set(ctx, urlKeyPrefix+code, notFoundSentinel, c.emptyTTL).Err()
}

func (c *UsageCache) Delete(ctx context.Context, code string) error {
	if c.local != nil {
		c.local.Del(code)
	}
	return c.client.Del(ctx, urlKeyPrefix+code).Err()
}

// Incr 原子自增计数并记录最近使用时间。
// ZINCRBY 在单 key 上是原子的，并发请求不需要跨请求加锁。
func (c *UsageCache) Incr(ctx context.Context, code string, at time.Time) error {
	pipe := c.client.Pipeline()
	pipe.ZIncrBy(ctx, usageSetKey, 1, code)
	pipe.Set(ctx, lastUsedKeyPrefix+code, at.UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

// Seed 以库里的权威计数回种缓存，只升不降（ZADD GT）：
// 同一同步窗口内缓存可能领先库值，低位的库值不能把未同步的增量抹掉。
// at 为零值时不碰最近使用时间。
func (c *UsageCache) Seed(ctx context.Context, code string, count int64, at time.Time) error {
	pipe := c.client.Pipeline()
	pipe.ZAddGT(ctx, usageSetKey, redis.Z{Score: float64(count), Member: code})
	if !at.IsZero() {
		pipe.Set(ctx, lastUsedKeyPrefix+code, at.UTC().Format(time.RFC3339Nano), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *UsageCache) Remove(ctx context.Context, code string) error {
	pipe := c.client.Pipeline()
	pipe.ZRem(ctx, usageSetKey, code)
	pipe.Del(ctx, lastUsedKeyPrefix+code)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *UsageCache) Peek(ctx context.Context, code string) (tinylink.UsageEntry, bool, error) {
	score, err := c.client.ZScore(ctx, usageSetKey, code).Result()
	if err == redis.Nil {
		return tinylink.UsageEntry{}, false, nil
	}
	if err != nil {
		return tinylink.UsageEntry{}, false, err
	}
	entry := tinylink.UsageEntry{Code: code, Count: int64(score)}
	entry.LastUsed = c.lastUsed(ctx, code)
	return entry, true, nil
}

// Snapshot 返回计数集合的完整快照，供同步任务回写数据库。
func (c *UsageCache) Snapshot(ctx context.Context) ([]tinylink.UsageEntry, error) {
	zs, err := c.client.ZRangeWithScores(ctx, usageSetKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]tinylink.UsageEntry, 0, len(zs))
	for _, z := range zs {
		code, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, tinylink.UsageEntry{
			Code:     code,
			Count:    int64(z.Score),
			LastUsed: c.lastUsed(ctx, code),
		})
	}
	return entries, nil
}

func (c *UsageCache) lastUsed(ctx context.Context, code string) time.Time {
	raw, err := c.client.Get(ctx, lastUsedKeyPrefix+code).Result()
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// 兼容不带纳秒的旧格式
		if t2, err2 := time.Parse(time.RFC3339, raw); err2 == nil {
			return t2
		}
		slog.Warn("bad last_used_at value", "code", code, "value", raw)
		return time.Time{}
	}
	return t
}

// Close 关闭本地缓存（Redis client 由装配方负责关闭）。
func (c *UsageCache) Close() {
	if c.local != nil {
		c.local.Close()
	}
}

var _ tinylink.URLCache = (*UsageCache)(nil)
var _ tinylink.UsageCounter = (*UsageCache)(nil)
