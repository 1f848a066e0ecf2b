package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/domain/usage"
	"github.com/saas2guys/fingate/ports"
)

const (
	defaultQueueSize     = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	flushTimeout         = 10 * time.Second
)

// UsageRecorder buffers usage events and writes them to the store in
// batches. Record never blocks the request path: a full queue drops the
// event and counts the drop.
type UsageRecorder struct {
	store    ports.UsageStore
	metrics  ports.Metrics
	log      zerolog.Logger
	queueCap int
	batch    int
	interval time.Duration

	mu  sync.Mutex
	buf []usage.Event

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// UsageRecorderConfig tunes the recorder. Zero values pick defaults.
type UsageRecorderConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// NewUsageRecorder creates and starts a recorder.
func NewUsageRecorder(store ports.UsageStore, metrics ports.Metrics, log zerolog.Logger, cfg UsageRecorderConfig) *UsageRecorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	r := &UsageRecorder{
		store:    store,
		metrics:  metrics,
		log:      log,
		queueCap: cfg.QueueSize,
		batch:    cfg.BatchSize,
		interval: cfg.FlushInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Record queues one event. Events beyond the queue capacity are dropped.
func (r *UsageRecorder) Record(event usage.Event) {
	var detached []usage.Event

	r.mu.Lock()
	if len(r.buf) >= r.queueCap {
		r.mu.Unlock()
		r.metrics.UsageDropped(1)
		return
	}
	r.buf = append(r.buf, event)
	if len(r.buf) >= r.batch {
		detached = r.buf
		r.buf = nil
	}
	r.mu.Unlock()

	if detached != nil {
		go r.write(detached)
	}
}

// Flush writes all buffered events immediately.
func (r *UsageRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	detached := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(detached) == 0 {
		return nil
	}
	return r.store.InsertEvents(ctx, detached)
}

// Close stops the flush loop and drains the buffer.
func (r *UsageRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = r.Flush(ctx)
	})
	return err
}

func (r *UsageRecorder) flushLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := r.Flush(ctx); err != nil {
				r.log.Error().Err(err).Msg("usage flush failed")
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

func (r *UsageRecorder) write(events []usage.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := r.store.InsertEvents(ctx, events); err != nil {
		r.log.Error().Err(err).Int("count", len(events)).Msg("usage batch write failed")
	}
}

// Ensure interface compliance.
var _ ports.UsageRecorder = (*UsageRecorder)(nil)
