package stats

import (
	"context"
	"log/slog"
	"time"
)

// ClickEvent 是一次成功跳转的明细事件，只用于离线分析。
// 计数（usage_count）不走这条通道：它有自己的同步路径。
type ClickEvent struct {
	Code      string    `json:"code"`
	ClickedAt time.Time `json:"clicked_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
}

// Collector 接收点击事件。实现必须快速返回，不能阻塞跳转路径。
type Collector interface {
	Collect(ev ClickEvent)
}

// NopCollector 丢弃全部事件，给关掉明细采集的部署用。
type NopCollector struct{}

func (NopCollector) Collect(ClickEvent) {}

// ChannelCollector 把事件投进有界 channel，由进程内 consumer 批量落库。
// channel 满时直接丢弃：明细事件可以丢，跳转延迟不能涨。
type ChannelCollector struct {
	ch chan ClickEvent
}

func NewChannelCollector(buf int) *ChannelCollector {
	if buf <= 0 {
		buf = 4096
	}
	return &ChannelCollector{ch: make(chan ClickEvent, buf)}
}

func (c *ChannelCollector) Collect(ev ClickEvent) {
	select {
	case c.ch <- ev:
	default:
		slog.Warn("click event dropped, buffer full", "code", ev.Code)
	}
}

// Events 暴露给 consumer 读取。
func (c *ChannelCollector) Events() <-chan ClickEvent {
	return c.ch
}

var _ Collector = (*ChannelCollector)(nil)
var _ Collector = NopCollector{}

// Sink 是事件的最终去向（link_clicks 表）。
type Sink interface {
	InsertClicks(ctx context.Context, events []ClickEvent) error
}
