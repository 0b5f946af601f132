package sync

import (
	"context"
	"log/slog"
	"time"

	"tinylink.local/internal/app/tinylink"
	"tinylink.local/internal/platform/metrics"
)

// UsageApplier 是同步任务需要的最小存储面。
type UsageApplier interface {
	ApplyUsage(ctx context.Context, code string, count int64, lastUsed time.Time) error
}

// Syncer 把缓存侧计数定期回写数据库。
//
// 只回写"最近用过"的条目：last_used_at 落在 [now-window, now] 之内。
// 窗口是固定的（与同步周期同长），不随上一轮耗时伸缩——一个刚好在
// 窗口边界上被使用的条目最多晚一轮落库，下一次使用会重新把它带进窗口。
// 回写用 GREATEST 语义，重放与乱序都不会让库值回退。
type Syncer struct {
	counter tinylink.UsageCounter
	store   UsageApplier
	window  time.Duration
	now     func() time.Time
}

func New(counter tinylink.UsageCounter, store UsageApplier, window time.Duration) *Syncer {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Syncer{
		counter: counter,
		store:   store,
		window:  window,
		now:     time.Now,
	}
}

// Sync 执行一轮回写，返回成功回写的条目数。
// 单条失败只记日志继续：下一轮还有机会，GREATEST 保证重试无害。
func (s *Syncer) Sync(ctx context.Context) error {
	entries, err := s.counter.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	now := s.now()
	cutoff := now.Add(-s.window)

	synced := 0
	for _, e := range entries {
		if e.LastUsed.IsZero() || e.LastUsed.Before(cutoff) {
			continue
		}
		if err := s.store.ApplyUsage(ctx, e.Code, e.Count, e.LastUsed); err != nil {
			slog.Warn("usage write-back failed", "code", e.Code, "err", err)
			continue
		}
		synced++
	}
	if synced > 0 {
		metrics.UsageSyncedTotal.Add(float64(synced))
		slog.Debug("usage sync round finished", "candidates", len(entries), "synced", synced)
	}
	return nil
}
