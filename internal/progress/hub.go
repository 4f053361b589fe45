package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes a Hub. Zero values take the defaults below.
type Config struct {
	// BufferSize bounds the events waiting for the delivery loop.
	BufferSize int
	// MaxBatch delivers early once this many events are pending.
	MaxBatch int
	// FlushEvery is the longest a task event waits before reaching the sinks.
	FlushEvery time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultMaxBatch    = 256
	defaultFlushEvery  = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropWarnInterval   = 5 * time.Second
)

// Stats are cumulative Hub counters.
type Stats struct {
	Accepted  int64
	Dropped   int64
	Delivered int64
}

// Hub fans events out to sinks from a single delivery goroutine, preserving
// emit order. Task events are best effort: when the buffer is full they are
// dropped rather than stalling a worker. Run lifecycle events wait for room,
// so a run is never left looking "running" in the sinks.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
	logger   *zap.Logger
	dropWarn rate.Sometimes

	accepted  atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64

	// mu orders Emit against Close: sends hold the read lock, Close flips
	// closed under the write lock before stopping the loop.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the delivery loop for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		events:   make(chan Event, cfg.BufferSize),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
		dropWarn: rate.Sometimes{Interval: dropWarnInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after
// Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if evt.Stage.Lifecycle() {
		select {
		case h.events <- evt:
			h.accepted.Add(1)
		case <-h.done:
		}
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
	default:
		n := h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("progress events dropped under backpressure", zap.Int64("dropped_total", n))
		})
	}
}

// Flush blocks until every event accepted before the call has been handed
// to the sinks.
func (h *Hub) Flush(ctx context.Context) error {
	if h == nil {
		return nil
	}
	ack := make(chan struct{})
	select {
	case h.flushReq <- ack:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub flush: %w", ctx.Err())
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub flush: %w", ctx.Err())
	}
}

// Stats returns the cumulative counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:  h.accepted.Load(),
		Dropped:   h.dropped.Load(),
		Delivered: h.delivered.Load(),
	}
}

// Close stops accepting events, delivers what is queued, closes the sinks and
// waits for the loop to exit or ctx to expire. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.closeCtx = ctx
		h.mu.Unlock()
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatch)
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if evt.Stage.Lifecycle() || len(batch) >= h.cfg.MaxBatch {
				batch = h.deliver(batch)
			}
		case <-ticker.C:
			batch = h.deliver(batch)
		case ack := <-h.flushReq:
			batch = h.deliver(h.drain(batch))
			close(ack)
		case <-h.stop:
			h.deliver(h.drain(batch))
			h.closeSinks()
			return
		}
	}
}

// drain moves every queued event into batch without blocking.
func (h *Hub) drain(batch []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
		default:
			return batch
		}
	}
}

// deliver hands a copy of batch to each sink and returns batch emptied.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := sink.Consume(ctx, out)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err), zap.Int("events", len(out)))
		}
	}
	h.delivered.Add(int64(len(out)))
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
