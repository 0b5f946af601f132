package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalCache 是基于 ristretto 的进程内 L1，只存 URL 影子。
// 计数永远不走 L1：命中也要在 Redis 里原子自增，否则多实例会各数各的。
type LocalCache struct {
	cache    *ristretto.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewLocalCache 创建本地缓存。
// maxItems: 最大条目数；maxCost: 最大内存占用（字节）。
func NewLocalCache(maxItems int64, maxCost int64) (*LocalCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10, // 计数器数量，建议为 maxItems 的 10 倍
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &LocalCache{
		cache:    c,
		ttl:      5 * time.Minute,  // L1 TTL 短一些，保证多实例间尽快收敛
		emptyTTL: 10 * time.Second, // 负缓存 TTL
	}, nil
}

func (l *LocalCache) Get(code string) (string, bool) {
	if v, ok := l.cache.Get(code); ok {
		return v.(string), true
	}
	return "", false
}

func (l *LocalCache) Set(code, url string) {
	// cost=1 表示按条目数限制
	l.cache.SetWithTTL(code, url, 1, l.ttl)
}

func (l *LocalCache) SetNotFound(code string) {
	l.cache.SetWithTTL(code, notFoundSentinel, 1, l.emptyTTL)
}

func (l *LocalCache) Del(code string) {
	l.cache.Del(code)
}

// Wait 等待写缓冲全部落入缓存。ristretto 的 Set 是异步的，
// 只有批量预热之类需要立刻可读的场景才用得到。
func (l *LocalCache) Wait() {
	l.cache.Wait()
}

func (l *LocalCache) Close() {
	l.cache.Close()
}
