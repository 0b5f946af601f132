package tinylink

import (
	"context"
	"time"
)

// UsageEntry 是某个短码当前的使用快照。
type UsageEntry struct {
	Code     string
	Count    int64
	LastUsed time.Time // 零值表示从未使用
}

// UsageCounter 是使用遥测的快速写入端。
//
// 两个实现：
// - 缓存实现（internal/app/tinylink/cache）：常态路径，Incr 是 Redis 原子自增，
//   数据由同步任务周期性回写数据库
// - 数据库实现（internal/app/tinylink/repo.StoreCounter）：写穿路径，
//   缓存整体不可用时的降级，也方便测试替换成内存假实现
type UsageCounter interface {
	// Incr 原子 +1 并记录最近使用时间。
	Incr(ctx context.Context, code string, at time.Time) error
	// Seed 抬高计数基准到 count，只升不降：已经领先的缓存计数不会被
	// 低位的库值覆盖（缓存预热/未命中后回种用）。at 为零值时不更新最近使用时间。
	Seed(ctx context.Context, code string, count int64, at time.Time) error
	// Remove 删除该短码的计数与最近使用时间。
	Remove(ctx context.Context, code string) error
	// Peek 读取单个短码的快照；不存在时 ok=false。
	Peek(ctx context.Context, code string) (entry UsageEntry, ok bool, err error)
	// Snapshot 返回所有待同步的快照。写穿实现恒返回空。
	Snapshot(ctx context.Context) ([]UsageEntry, error)
}
