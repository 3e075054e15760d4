package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Hikikomori041/m2-projetweb/pkg/kafka"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
)

// Publisher ships a batch of events, typically a *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers search and index events without blocking the caller,
// records them in an optional Aggregator and publishes them in batches.
type Collector struct {
	publisher     Publisher
	aggregator    *Aggregator
	eventCh       chan any
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

// NewCollector returns a Collector. publisher and aggregator may each be
// nil.
func NewCollector(publisher Publisher, aggregator *Aggregator, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		aggregator:    aggregator,
		eventCh:       make(chan any, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.WithComponent("analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start runs the publishing loop until ctx is cancelled or Close is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = append(batch, c.record(event))
				if len(batch) >= c.batchSize {
					batch = c.flush(ctx, batch)
				}
			case <-ticker.C:
				batch = c.flush(ctx, batch)
			case <-ctx.Done():
				batch = c.drainRemaining(batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx, batch)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues event. It never blocks; events are dropped when the buffer
// is full.
func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close flushes queued events and stops the loop started by Start.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}

func (c *Collector) record(event any) kafka.Event {
	if c.aggregator != nil {
		c.aggregator.Record(event)
	}
	key := "search"
	if e, ok := event.(IndexEvent); ok {
		key = e.DocumentID
	}
	return kafka.Event{Key: key, Value: event}
}

func (c *Collector) drainRemaining(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, c.record(event))
		default:
			return batch
		}
	}
}

// flush publishes batch and returns an empty slice to refill. Failed
// batches are logged and dropped; analytics are best effort.
func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if len(batch) == 0 || c.publisher == nil {
		return batch[:0]
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish analytics events",
			"batch_size", len(batch),
			"error", err,
		)
	} else {
		c.logger.Debug("analytics batch published", "events", len(batch))
	}
	return make([]kafka.Event, 0, c.batchSize)
}
