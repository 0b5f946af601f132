package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaCollector 把点击事件发到 Kafka topic，给多实例部署用：
// 事件在 broker 里汇流，由单独的 consumer 组落库。
// 异步写（RequireNone + Async）：跳转路径不等 broker 确认。
type KafkaCollector struct {
	writer *kafka.Writer
}

func NewKafkaCollector(brokers []string, topic string) *KafkaCollector {
	return &KafkaCollector{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // 同一短码进同一分区，保持事件有序
			RequiredAcks: kafka.RequireNone,
			Async:        true,
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

func (c *KafkaCollector) Collect(ev ClickEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("click event marshal failed", "code", ev.Code, "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.Code),
		Value: payload,
	}
	if err := c.writer.WriteMessages(context.Background(), msg); err != nil {
		// Async 模式下这里几乎只会在 writer 已关闭时报错
		slog.Warn("click event publish failed", "code", ev.Code, "err", err)
	}
}

func (c *KafkaCollector) Close() error {
	return c.writer.Close()
}

var _ Collector = (*KafkaCollector)(nil)

// KafkaConsumer 从 topic 读事件，攒批落库。
type KafkaConsumer struct {
	reader    *kafka.Reader
	sink      Sink
	batchSize int
	flushTick time.Duration
}

func NewKafkaConsumer(brokers []string, topic, groupID string, sink Sink) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
		sink:      sink,
		batchSize: 100,
		flushTick: 2 * time.Second,
	}
}

// Run 一直消费到 ctx 取消。
// 解析失败的消息记日志后跳过：毒消息不值得卡住整个分区。
func (c *KafkaConsumer) Run(ctx context.Context) {
	defer c.reader.Close()

	ticker := time.NewTicker(c.flushTick)
	defer ticker.Stop()

	batch := make([]ClickEvent, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.sink.InsertClicks(fctx, batch); err != nil {
			slog.Error("click batch insert failed", "count", len(batch), "err", err)
		}
		cancel()
		batch = batch[:0]
	}

	msgs := make(chan kafka.Message)
	go func() {
		defer close(msgs)
		for {
			m, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("kafka read failed", "err", err)
				}
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case m, ok := <-msgs:
			if !ok {
				flush()
				return
			}
			var ev ClickEvent
			if err := json.Unmarshal(m.Value, &ev); err != nil {
				slog.Warn("bad click event payload", "offset", m.Offset, "err", err)
				continue
			}
			batch = append(batch, ev)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
