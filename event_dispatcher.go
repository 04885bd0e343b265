package goSession

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventStats counts dispatcher activity.
type EventStats struct {
	Delivered uint64
	Dropped   uint64
	// SinkPanics counts sink calls that panicked; the event is lost but the
	// dispatcher keeps running.
	SinkPanics uint64
}

type eventDispatcher struct {
	cfg    EventsConfig
	sink   EventSink
	logger *slog.Logger
	queue  chan SessionEvent
	stop   chan struct{}
	wg     sync.WaitGroup

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	sinkPanics atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// newEventDispatcher returns nil when events are disabled; every method is
// nil-safe.
func newEventDispatcher(cfg EventsConfig, sink EventSink, logger *slog.Logger) *eventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &eventDispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan SessionEvent, cfg.BufferSize),
		stop:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.loop()

	return d
}

func (d *eventDispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *eventDispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *eventDispatcher) deliver(event SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.sinkPanics.Add(1)
			if d.logger != nil {
				d.logger.Error("goSession: event sink panicked", "event_type", event.EventType, "panic", r)
			}
		}
	}()

	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit enqueues event. With DropIfFull a full queue drops and counts the
// event; otherwise Emit waits for room, ctx, or Close.
func (d *eventDispatcher) Emit(ctx context.Context, event SessionEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close delivers queued events and stops the dispatcher goroutine.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *eventDispatcher) Stats() EventStats {
	if d == nil {
		return EventStats{}
	}
	return EventStats{
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		SinkPanics: d.sinkPanics.Load(),
	}
}
