package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kandev/claude-runner/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "json",
		OutputPath: "stderr",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
	bus.Close()
	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after Close")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	received := make(chan *Event, 1)
	sub, err := bus.Subscribe("runner.thread.t1.events", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("agui.event", "session-1", map[string]any{"key": "value"})
	if err := bus.Publish(context.Background(), "runner.thread.t1.events", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
		if e.Source != "session-1" {
			t.Errorf("Expected source session-1, got %s", e.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"runner.thread.*.events", "runner.thread.t1.events", true},
		{"runner.thread.*.events", "runner.thread.t1.x.events", false},
		{"runner.run.>", "runner.run.finished", true},
		{"runner.run.>", "runner.run", false},
		{"runner.run.finished", "runner.run.finished", true},
		{"runner.run.finished", "runner.run.error", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			sub := &memorySubscription{subject: tt.pattern, pattern: compilePattern(tt.pattern)}
			if got := sub.matches(tt.subject); got != tt.want {
				t.Errorf("matches(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
			}
		})
	}
}

func TestMemoryEventBus_OrderedDelivery(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	const n = 100
	got := make(chan string, n)
	if _, err := bus.Subscribe("runner.thread.*.events", func(ctx context.Context, event *Event) error {
		got <- event.Data["seq"].(string)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < n; i++ {
		ev := NewEvent("agui.event", "s", map[string]any{"seq": fmt.Sprint(i)})
		if err := bus.Publish(ctx, "runner.thread.t1.events", ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case seq := <-got:
			if seq != fmt.Sprint(i) {
				t.Fatalf("event %d delivered out of order: %s", i, seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for event %d", i)
		}
	}
}

func TestMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var count int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		if _, err := bus.Subscribe("runner.run.>", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&count, 1)
			done <- struct{}{}
			return nil
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	if err := bus.Publish(context.Background(), "runner.run.started", NewEvent("run.started", "s", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for subscribers")
		}
	}
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("Expected 3 deliveries, got %d", got)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var count int32
	sub, err := bus.Subscribe("a.b", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid")
	}

	if err := bus.Publish(context.Background(), "a.b", NewEvent("x", "s", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("Expected no deliveries after unsubscribe, got %d", got)
	}
}

func TestMemoryEventBus_Closed(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	sub, err := bus.Subscribe("a.b", func(ctx context.Context, event *Event) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	bus.Close()

	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after Close")
	}
	if err := bus.Publish(context.Background(), "a.b", NewEvent("x", "s", nil)); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe("a.b", nil); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
}
