package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes a Hub. Zero values select the defaults.
type Config struct {
	// Buffer is how many events may queue before Emit starts dropping.
	Buffer int
	// BatchSize caps the events handed to a sink in one Consume call.
	BatchSize int
	// FlushInterval bounds how long an accepted event waits for delivery.
	FlushInterval time.Duration
	// SinkTimeout bounds every Consume and Close call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBuffer        = 1024
	defaultBatchSize     = 256
	defaultFlushInterval = 250 * time.Millisecond
	defaultSinkTimeout   = 5 * time.Second
)

// Hub fans crawl events out to sinks from a single background goroutine.
// Emit never blocks: when the buffer is full the event is counted as dropped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	in   chan Event
	quit chan struct{}
	done chan struct{}

	accepted atomic.Int64
	dropped  atomic.Int64
	dropLog  rate.Sometimes
	closing  atomic.Bool
	stopOnce sync.Once
}

// NewHub starts a Hub delivering to sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		logger:  logger,
		in:      make(chan Event, cfg.Buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events sent after Close
// are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
		h.accepted.Add(1)
	default:
		total := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress buffer full, dropping events", zap.Int64("dropped_total", total))
		})
	}
}

// Accepted reports how many events were queued for delivery.
func (h *Hub) Accepted() int64 {
	if h == nil {
		return 0
	}
	return h.accepted.Load()
}

// Dropped reports how many valid events were lost to a full buffer.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops accepting events, delivers what is queued, closes every sink
// and waits for the background goroutine until ctx expires. Repeated calls
// only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.in:
			pending = h.add(pending, evt)
		case <-ticker.C:
			pending = h.deliver(pending)
		case <-h.quit:
			h.deliver(h.drain(pending))
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.in:
			pending = h.add(pending, evt)
		default:
			return pending
		}
	}
}

func (h *Hub) add(pending []Event, evt Event) []Event {
	pending = append(pending, evt)
	if len(pending) >= h.cfg.BatchSize {
		return h.deliver(pending)
	}
	return pending
}

// deliver hands a copy of pending to each sink and returns pending emptied
// for reuse.
func (h *Hub) deliver(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := slices.Clone(pending)
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := s.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
	}
	return pending[:0]
}

func (h *Hub) closeSinks() {
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := s.Close(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
