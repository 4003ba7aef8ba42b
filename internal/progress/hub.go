package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values select
// the defaults below.
type Config struct {
	// BufferSize bounds events waiting for the writer goroutine.
	BufferSize int
	// MaxBatchEvents triggers a write as soon as this many events wait.
	MaxBatchEvents int
	// MaxBatchWait is the longest an event waits before a write.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches job log events from many tasks and writes each batch to every
// sink. Emit never blocks: when the buffer is full the event is dropped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	events  chan Event
	flushes chan chan struct{}
	quit    chan struct{}
	done    chan struct{}

	dropped  atomic.Int64
	dropWarn rate.Sometimes
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the writer goroutine; the Hub accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		logger:   cfg.Logger,
		events:   make(chan Event, cfg.BufferSize),
		flushes:  make(chan chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events and events after Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid job log event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("job log events dropped, buffer full",
				zap.Int64("dropped", h.dropped.Swap(0)))
		})
	}
}

// Flush returns once every event emitted before the call has reached the
// sinks. Jobs call it before recording a terminal status.
func (h *Hub) Flush(ctx context.Context) error {
	if h == nil || h.closed.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case h.flushes <- ack:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush job logs: %w", ctx.Err())
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush job logs: %w", ctx.Err())
	}
}

// Close writes what is buffered, closes the sinks and waits for the writer
// to exit. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

// loop owns the pending batch. The timer channel is nil while nothing waits.
func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timeout = nil
	}
	write := func() {
		h.write(pending)
		pending = pending[:0]
		disarm()
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents:
				write()
			case timeout == nil:
				if timer == nil {
					timer = time.NewTimer(h.cfg.MaxBatchWait)
				} else {
					timer.Reset(h.cfg.MaxBatchWait)
				}
				timeout = timer.C
			}
		case <-timeout:
			timeout = nil
			h.write(pending)
			pending = pending[:0]
		case ack := <-h.flushes:
			pending = h.takeBuffered(pending)
			write()
			close(ack)
		case <-h.quit:
			pending = h.takeBuffered(pending)
			write()
			h.closeSinks()
			return
		}
	}
}

// takeBuffered appends everything waiting in the channel, writing full
// batches on the way.
func (h *Hub) takeBuffered(pending []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.write(pending)
				pending = pending[:0]
			}
		default:
			return pending
		}
	}
}

// write hands one batch to all sinks concurrently; sink errors are logged.
func (h *Hub) write(batch []Event) {
	if len(batch) == 0 || len(h.sinks) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			if err := sink.Consume(ctx, snapshot); err != nil {
				h.logger.Warn("job log sink failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("job log sink close failed", zap.Error(err))
		}
	}
}

