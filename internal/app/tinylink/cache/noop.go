package cache

import (
	"context"

	"tinylink.local/internal/app/tinylink"
)

// NoopURLCache 给没有 Redis 的部署用：永远未命中，所有解析都走数据库。
// 配合 repo.StoreCounter，计数直接落库，正确性不变，只是少了读加速。
type NoopURLCache struct{}

func (NoopURLCache) Get(ctx context.Context, code string) (tinylink.CachedURL, error) {
	return tinylink.CachedURL{}, nil
}

func (NoopURLCache) Set(ctx context.Context, code, url string) error { return nil }

func (NoopURLCache) SetNotFound(ctx context.Context, code string) error { return nil }

func (NoopURLCache) Delete(ctx context.Context, code string) error { return nil }

var _ tinylink.URLCache = NoopURLCache{}
