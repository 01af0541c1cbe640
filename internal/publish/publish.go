// Package publish streams enriched entries to downstream consumers.
//
// Ingestion enqueues entries into a bounded queue; a background loop
// batches them out to the configured publisher. The queue sheds oldest
// entries under pressure so the ingest path never blocks on a slow or
// dead broker.
package publish

import (
	"context"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

// Publisher delivers batches of entries to a downstream system.
type Publisher interface {
	Publish(ctx context.Context, entries []*models.LogEntry) error
	Close() error
}

// Config configures the downstream publisher and its queue.
type Config struct {
	// Enabled turns publishing on. When false nothing is wired.
	Enabled bool `yaml:"enabled"`

	// Brokers lists the Kafka bootstrap brokers.
	Brokers []string `yaml:"brokers"`

	// Topic is the Kafka topic entries are written to.
	Topic string `yaml:"topic"`

	// QueueSize bounds the in-memory queue. Defaults to 1024.
	QueueSize int `yaml:"queue_size"`

	// BatchSize is the number of queued entries that triggers a flush.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval flushes partial batches on a timer.
	FlushInterval time.Duration `yaml:"flush_interval"`
}
