package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cinderlog/cinder/internal/models"
)

// KafkaPublisher writes entries to a Kafka topic as JSON messages keyed
// by source, so entries from one source stay in partition order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes one message per entry and returns the broker error, if
// any, so the queue can requeue the batch.
func (p *KafkaPublisher) Publish(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(entries))
	for _, entry := range entries {
		value, err := json.Marshal(entry)
		if err != nil {
			log.Printf("warning: failed to marshal entry %s for publish: %v", entry.ID, err)
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(entry.Source),
			Value: value,
		})
	}
	if len(messages) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

// Close flushes buffered messages and closes broker connections.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
