package queue

import (
	"context"
	"testing"
	"time"

	"github.com/pedalhouse/engine/internal/domain/model"
)

func reading(device string, bpm float64) model.Reading {
	return model.Reading{DeviceID: device, Metric: model.MetricHeartRate, Value: bpm, Timestamp: time.Now()}
}

func TestEnqueueDrain(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(8))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !q.Enqueue(ctx, reading("hrm-1", 100+float64(i))) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("drained %d readings, want 3", len(drained))
	}
	if drained[0].Value != 100 || drained[2].Value != 102 {
		t.Errorf("drain order not preserved: %v", drained)
	}
	if got := q.Len(); got != 0 {
		t.Errorf("Len after drain = %d, want 0", got)
	}
}

func TestEnqueueFull(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	if !q.Enqueue(ctx, reading("hrm-1", 100)) {
		t.Fatal("first enqueue failed")
	}
	if q.Enqueue(ctx, reading("hrm-1", 101)) {
		t.Fatal("enqueue beyond capacity should fail")
	}
}

func TestClose(t *testing.T) {
	q := NewInMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if q.Enqueue(context.Background(), reading("hrm-1", 100)) {
		t.Fatal("enqueue after close should fail")
	}
}
