package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// DispatcherConfig controls buffering.
type DispatcherConfig struct {
	BufferSize int
	// DropIfFull drops info, warn and error events instead of blocking the
	// caller when the buffer is full. Retained events are never dropped.
	DropIfFull bool
}

// Dispatcher forwards events to a sink from a single goroutine.
//
// Security and audit level events are retained: when the buffer is full,
// the caller's context ends or the dispatcher is closed, they are written to
// the sink on the caller's goroutine instead of being dropped. The sink must
// therefore tolerate concurrent Emit calls.
type Dispatcher struct {
	cfg     DispatcherConfig
	sink    Sink
	queue   chan Event
	done    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
	spilled atomic.Uint64
}

func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		done:  make(chan struct{}),
	}
	d.stopped.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.stopped.Done()
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit queues event. A retained event that cannot be queued is written
// synchronously; any other event is dropped and counted.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.lose(ctx, event)
		return
	}

	if d.cfg.DropIfFull && !Retained(event.Level) {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.lose(ctx, event)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.lose(ctx, event)
	case <-d.done:
		d.lose(ctx, event)
	}
}

// lose handles an event that could not be queued.
func (d *Dispatcher) lose(ctx context.Context, event Event) {
	if !Retained(event.Level) {
		d.dropped.Add(1)
		return
	}
	d.spilled.Add(1)
	d.sink.Emit(context.WithoutCancel(ctx), event)
}

// Close stops accepting events and drains the buffer into the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.stopped.Wait()
	})
}

// Dropped counts non-retained events lost to a full buffer, a cancelled
// caller or a closed dispatcher.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Spilled counts retained events written on the caller's goroutine.
func (d *Dispatcher) Spilled() uint64 {
	if d == nil {
		return 0
	}
	return d.spilled.Load()
}
