package worker

import (
	"context"
	"log/slog"
	"time"
)

// Periodic 是一个受监管的周期任务：
// - 生命周期由 ctx 控制（取消即退出），不做 fire-and-forget
// - 每轮迭代单独隔离：panic 被捕获、错误被记录，循环继续
// - 第一轮立即执行，之后按 Interval 触发
//
// 单轮失败（坏数据、下游抖动）绝不能终止后续所有轮次。
type Periodic struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

// Run 阻塞运行，直到 ctx 取消。通常放在单独的 goroutine 里。
func (p Periodic) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	slog.Info("periodic worker started", "worker", p.Name, "interval", p.Interval.String())
	for {
		p.runOnce(ctx)
		select {
		case <-ctx.Done():
			slog.Info("periodic worker stopped", "worker", p.Name)
			return
		case <-ticker.C:
		}
	}
}

func (p Periodic) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("periodic worker panic", "worker", p.Name, "panic", r)
		}
	}()
	if err := p.Fn(ctx); err != nil {
		slog.Error("periodic worker iteration failed", "worker", p.Name, "err", err)
	}
}
