package stats

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []ClickEvent
}

func (s *memSink) InsertClicks(ctx context.Context, events []ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestChannelCollectorDropsWhenFull(t *testing.T) {
	c := NewChannelCollector(2)

	// 没有消费者，塞满后必须立即返回而不是阻塞
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.Collect(ClickEvent{Code: "abc"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Collect blocked on a full buffer")
	}

	if got := len(c.Events()); got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}
}

func TestConsumerFlushesOnBatchSize(t *testing.T) {
	c := NewChannelCollector(64)
	sink := &memSink{}
	consumer := NewConsumer(c.Events(), sink, 3, time.Hour) // ticker 不参与，靠批大小触发

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		c.Collect(ClickEvent{Code: "abc", ClickedAt: time.Now()})
	}

	deadline := time.After(2 * time.Second)
	for sink.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("sink has %d events, want 3", sink.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestConsumerFlushesOnShutdown(t *testing.T) {
	c := NewChannelCollector(64)
	sink := &memSink{}
	consumer := NewConsumer(c.Events(), sink, 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	c.Collect(ClickEvent{Code: "abc"})
	c.Collect(ClickEvent{Code: "def"})
	// 等 consumer 把事件从 channel 里取走
	deadline := time.After(time.Second)
	for len(c.Events()) > 0 {
		select {
		case <-deadline:
			t.Fatal("consumer did not drain the channel")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
	if got := sink.count(); got != 2 {
		t.Fatalf("sink has %d events after shutdown, want 2", got)
	}
}
