// Package progress streams per-iteration sampler snapshots to Kafka and
// reads them back for the watch command.
package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/resilience"
)

// Publisher writes a batch of events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector is a sampler.Observer that forwards every Nth snapshot to a
// Publisher from a background goroutine. Observe never blocks; snapshots
// that do not fit in the buffer are dropped and counted.
type Collector struct {
	publisher Publisher
	every     int
	batchSize int
	events    chan sampler.Progress
	done      chan struct{}
	dropped   atomic.Int64
	logger    *slog.Logger
}

// NewCollector forwards one snapshot in every `every` iterations, plus the
// ones that removed a live point.
func NewCollector(publisher Publisher, bufferSize, every int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if every <= 0 {
		every = 1
	}
	return &Collector{
		publisher: publisher,
		every:     every,
		batchSize: 100,
		events:    make(chan sampler.Progress, bufferSize),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "progress-collector"),
	}
}

func (c *Collector) Observe(p sampler.Progress) {
	if p.Iteration%c.every != 0 && !p.Removed {
		return
	}
	select {
	case c.events <- p:
	default:
		if c.dropped.Add(1) == 1 {
			c.logger.Warn("progress event dropped (buffer full)", "run_id", p.RunID, "iteration", p.Iteration)
		}
	}
}

// Start launches the publishing loop. Pending events are flushed when Close
// is called or ctx ends.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			sent := append([]kafka.Event(nil), batch...)
			err := resilience.Retry(ctx, "progress-publish", resilience.RetryConfig{MaxAttempts: 3}, func() error {
				return c.publisher.PublishBatch(ctx, sent)
			})
			if err != nil {
				c.logger.Error("progress batch dropped", "events", len(batch), "error", err)
			}
			batch = batch[:0]
		}
		for {
			select {
			case p, ok := <-c.events:
				if !ok {
					flush(context.Background())
					return
				}
				batch = append(batch, kafka.Event{Key: p.RunID, Value: p})
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
				c.drain(&batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("progress collector started", "buffer_size", cap(c.events), "every", c.every)
}

func (c *Collector) drain(batch *[]kafka.Event) {
	for {
		select {
		case p, ok := <-c.events:
			if !ok {
				return
			}
			*batch = append(*batch, kafka.Event{Key: p.RunID, Value: p})
		default:
			return
		}
	}
}

// Close stops accepting events and waits for the final flush. It must follow
// Start and the end of the run being observed.
func (c *Collector) Close() {
	close(c.events)
	<-c.done
	if n := c.dropped.Load(); n > 0 {
		c.logger.Warn("progress events dropped", "count", n)
	}
}

func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}
