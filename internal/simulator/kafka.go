package simulator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/pedalhouse/engine/internal/domain/model"
)

// KafkaEmitter publishes readings onto the inbound reading stream,
// keyed by device so per-device ordering survives partitioning.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter builds a writer for the reading topic.
func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Emit publishes one reading as JSON.
func (e *KafkaEmitter) Emit(ctx context.Context, r model.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	if err := e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.DeviceID),
		Value: body,
	}); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
