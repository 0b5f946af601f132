package stats

import (
	"context"
	"log/slog"
	"time"
)

// Consumer 从 channel 收事件，攒批落库。
// 批写只 INSERT link_clicks 明细，绝不碰 usage_count——计数由
// 解析路径和同步任务负责，这里重复加会双计。
type Consumer struct {
	events    <-chan ClickEvent
	sink      Sink
	batchSize int
	flushTick time.Duration
}

func NewConsumer(events <-chan ClickEvent, sink Sink, batchSize int, flushTick time.Duration) *Consumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTick <= 0 {
		flushTick = 2 * time.Second
	}
	return &Consumer{
		events:    events,
		sink:      sink,
		batchSize: batchSize,
		flushTick: flushTick,
	}
}

// Run 一直消费到 ctx 取消，退出前把手里攒的批刷掉。
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.flushTick)
	defer ticker.Stop()

	batch := make([]ClickEvent, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// 落库用独立超时：ctx 可能已经取消（关停路径）
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.sink.InsertClicks(fctx, batch); err != nil {
			slog.Error("click batch insert failed", "count", len(batch), "err", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-c.events:
			batch = append(batch, ev)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
