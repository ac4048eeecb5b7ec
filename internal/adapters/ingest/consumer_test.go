package ingest

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// scriptedReader replays a fixed message sequence, then reports closure.
type scriptedReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	commit []int64
}

func (r *scriptedReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.ErrClosedPipe
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commit = append(r.commit, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

// recordingOfferer collects every forwarded reading.
type recordingOfferer struct {
	mu       sync.Mutex
	readings []model.Reading
}

func (o *recordingOfferer) Offer(_ context.Context, r model.Reading) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readings = append(o.readings, r)
	return true
}

func msg(offset int64, body string) kafka.Message {
	return kafka.Message{Offset: offset, Value: []byte(body)}
}

func TestConsumerForwardsAndFilters(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)
	earlier := ts.Add(-time.Second)
	reader := &scriptedReader{msgs: []kafka.Message{
		msg(0, `{"deviceId":"hrm-1","metric":"heart_rate","value":142,"timestamp":"`+ts.Format(time.RFC3339)+`"}`),
		msg(1, `not json`),
		msg(2, `{"metric":"heart_rate","value":120}`),                                                                   // no device
		msg(3, `{"deviceId":"hrm-1","metric":"heart_rate","value":142,"timestamp":"`+ts.Format(time.RFC3339)+`"}`),      // duplicate
		msg(4, `{"deviceId":"hrm-1","metric":"heart_rate","value":138,"timestamp":"`+earlier.Format(time.RFC3339)+`"}`), // stale
		msg(5, `{"deviceId":"hrm-2","value":95,"timestamp":"`+ts.Format(time.RFC3339)+`"}`),                             // metric defaults
	}}
	target := &recordingOfferer{}

	c, err := New(Config{Topic: "readings"}, target, withReader(reader))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(target.readings) != 2 {
		t.Fatalf("forwarded = %d readings, want 2: %+v", len(target.readings), target.readings)
	}
	if target.readings[0].DeviceID != "hrm-1" || target.readings[0].Value != 142 {
		t.Errorf("first forwarded = %+v", target.readings[0])
	}
	if target.readings[1].DeviceID != "hrm-2" || target.readings[1].Metric != model.MetricHeartRate {
		t.Errorf("second forwarded = %+v, want defaulted heart_rate metric", target.readings[1])
	}
	// Every message commits, dropped or not, so poison input never wedges
	// the group offset.
	if len(reader.commit) != 6 {
		t.Errorf("committed = %d offsets, want 6", len(reader.commit))
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := New(Config{}, &recordingOfferer{}, withReader(&scriptedReader{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(ctx); err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestConsumerRequiresWiring(t *testing.T) {
	if _, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "readings"}, nil); err != ErrNilTarget {
		t.Errorf("nil target = %v, want ErrNilTarget", err)
	}
	if _, err := New(Config{Topic: "readings"}, &recordingOfferer{}); err != ErrNoBrokers {
		t.Errorf("no brokers = %v, want ErrNoBrokers", err)
	}
	if _, err := New(Config{Brokers: []string{"localhost:9092"}}, &recordingOfferer{}); err != ErrNoTopic {
		t.Errorf("no topic = %v, want ErrNoTopic", err)
	}
}
