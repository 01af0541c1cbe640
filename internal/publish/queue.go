package publish

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
)

// flushTimeout bounds a single publish attempt.
const flushTimeout = 10 * time.Second

// Queue buffers enriched entries for asynchronous publishing.
// It flushes on either batch size threshold or time interval,
// whichever comes first. When full it sheds oldest entries so the
// ingest path never blocks on a slow or unreachable broker; flushes
// always run on the background loop, never on the caller.
type Queue struct {
	publisher     Publisher
	batchSize     int
	flushInterval time.Duration
	maxSize       int

	mu      sync.Mutex
	pending []*models.LogEntry

	kickCh    chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopped   atomic.Bool
	dropped   atomic.Int64
	flushes   atomic.Int64
	published atomic.Int64
}

// QueueConfig holds Queue configuration.
type QueueConfig struct {
	// BatchSize is the number of entries to trigger a flush.
	BatchSize int

	// FlushInterval is the time interval to trigger a flush.
	FlushInterval time.Duration

	// MaxSize is the maximum queue size. When reached, oldest entries are dropped.
	MaxSize int
}

// NewQueue creates a queue draining into the given publisher. The queue
// does not own the publisher; callers close it after closing the queue.
func NewQueue(publisher Publisher, config *QueueConfig) *Queue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = time.Second
	}
	if config.MaxSize == 0 {
		config.MaxSize = 1024
	}

	q := &Queue{
		publisher:     publisher,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		pending:       make([]*models.LogEntry, 0, config.BatchSize),
		kickCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go q.flushLoop()
	return q
}

// Enqueue adds an entry to the queue and reports whether it was
// accepted. It returns false only after Close; overflow drops the
// oldest queued entries, not the new one.
func (q *Queue) Enqueue(entry *models.LogEntry) bool {
	if entry == nil || q.stopped.Load() {
		return false
	}

	q.mu.Lock()
	if len(q.pending) >= q.maxSize {
		toDrop := len(q.pending) - q.maxSize + 1
		q.dropped.Add(int64(toDrop))
		metrics.PublishDroppedTotal.Add(float64(toDrop))
		q.pending = q.pending[toDrop:]
		log.Printf("warning: publish queue overflow, dropped %d oldest entries", toDrop)
	}
	q.pending = append(q.pending, entry)
	pending := len(q.pending)
	q.mu.Unlock()

	metrics.PublishQueuePending.Set(float64(pending))
	if pending >= q.batchSize {
		select {
		case q.kickCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush publishes the current queue contents.
func (q *Queue) Flush() error {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}

	batch := q.pending
	q.pending = make([]*models.LogEntry, 0, q.batchSize)
	q.mu.Unlock()
	metrics.PublishQueuePending.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := q.publisher.Publish(ctx, batch); err != nil {
		metrics.PublishErrors.Inc()

		// Put entries back at the front so they go out first on retry.
		q.mu.Lock()
		q.pending = append(batch, q.pending...)
		if len(q.pending) > q.maxSize {
			excess := len(q.pending) - q.maxSize
			q.dropped.Add(int64(excess))
			metrics.PublishDroppedTotal.Add(float64(excess))
			q.pending = q.pending[excess:]
		}
		pending := len(q.pending)
		q.mu.Unlock()

		metrics.PublishQueuePending.Set(float64(pending))
		return err
	}

	q.flushes.Add(1)
	q.published.Add(int64(len(batch)))
	metrics.PublishedTotal.Add(float64(len(batch)))
	return nil
}

// flushLoop drains the queue on the interval, on size kicks, and once
// more on shutdown.
func (q *Queue) flushLoop() {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.Flush(); err != nil {
				log.Printf("publish queue flush error: %v", err)
			}
		case <-q.kickCh:
			if err := q.Flush(); err != nil {
				log.Printf("publish queue flush error: %v", err)
			}
		case <-q.stopCh:
			if err := q.Flush(); err != nil {
				log.Printf("publish queue final flush error: %v", err)
			}
			return
		}
	}
}

// Close stops the queue and flushes remaining entries.
func (q *Queue) Close() error {
	if q.stopped.Swap(true) {
		return nil
	}
	close(q.stopCh)
	<-q.doneCh
	return nil
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()

	return QueueStats{
		Pending:   pending,
		Dropped:   q.dropped.Load(),
		Flushes:   q.flushes.Load(),
		Published: q.published.Load(),
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	// Pending is the number of entries waiting to be published.
	Pending int

	// Dropped is the total number of entries dropped due to backpressure.
	Dropped int64

	// Flushes is the total number of successful publish batches.
	Flushes int64

	// Published is the total number of entries successfully published.
	Published int64
}
