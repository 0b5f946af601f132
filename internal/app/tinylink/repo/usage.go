package repo

import (
	"context"
	"errors"
	"time"

	"tinylink.local/internal/app/tinylink"
)

// StoreCounter 是直接落库的计数实现，给没有 Redis 的部署用。
// 写入即落库，没有缓存侧领先量，所以 Snapshot 永远为空——同步任务
// 在这种部署下无事可做。
type StoreCounter struct {
	repo *LinksRepo
}

func NewStoreCounter(repo *LinksRepo) *StoreCounter {
	return &StoreCounter{repo: repo}
}

func (c *StoreCounter) Incr(ctx context.Context, code string, at time.Time) error {
	_, err := c.repo.Touch(ctx, code, at)
	return err
}

func (c *StoreCounter) Seed(ctx context.Context, code string, count int64, at time.Time) error {
	if count == 0 && at.IsZero() {
		return nil
	}
	return c.repo.ApplyUsage(ctx, code, count, at)
}

// Remove 无事可做：记录删除时计数随行一起消失。
func (c *StoreCounter) Remove(ctx context.Context, code string) error {
	return nil
}

func (c *StoreCounter) Peek(ctx context.Context, code string) (tinylink.UsageEntry, bool, error) {
	link, err := c.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, tinylink.ErrLinkNotFound) {
			return tinylink.UsageEntry{}, false, nil
		}
		return tinylink.UsageEntry{}, false, err
	}
	entry := tinylink.UsageEntry{Code: link.ShortCode, Count: link.UsageCount}
	if link.LastUsedAt != nil {
		entry.LastUsed = *link.LastUsedAt
	}
	return entry, true, nil
}

func (c *StoreCounter) Snapshot(ctx context.Context) ([]tinylink.UsageEntry, error) {
	return nil, nil
}

var _ tinylink.UsageCounter = (*StoreCounter)(nil)
