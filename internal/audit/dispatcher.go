package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds one Record call. Zero means no bound.
	SinkTimeout time.Duration
}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled; a nil *Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "audit"),
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// run delivers events until Close, then flushes whatever is still buffered.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			d.flush()
			return
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	if err := d.sink.Record(ctx, event); err != nil {
		d.failed.Add(1)
		d.logger.Warn("audit sink failed",
			"event_type", event.EventType,
			"event_id", event.ID,
			"error", err,
		)
	}
}

// Emit queues event. It never reports failure to the caller.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	d.emit(ctx, event, !d.dropIfFull())
}

// TryEmit queues event only if the buffer has room, whatever DropIfFull says.
// It is for callers that sit on a request's decision path.
func (d *Dispatcher) TryEmit(ctx context.Context, event Event) {
	d.emit(ctx, event, false)
}

func (d *Dispatcher) dropIfFull() bool {
	return d != nil && d.cfg.DropIfFull
}

func (d *Dispatcher) emit(ctx context.Context, event Event, wait bool) {
	if d == nil || d.closed.Load() {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if !d.enqueue(ctx, event, wait) {
		d.dropped.Add(1)
	}
}

// enqueue reports false when the event was dropped. Without wait a full
// buffer drops immediately; with it the caller waits until ctx ends.
// Events racing Close are discarded without counting.
func (d *Dispatcher) enqueue(ctx context.Context, event Event, wait bool) bool {
	if !wait {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			return false
		}
		return true
	}

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case d.ch <- event:
	case <-d.done:
	case <-cancelled:
		return false
	}
	return true
}

// Close stops accepting events and drains the buffer into the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events lost to a full buffer or a cancelled caller.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events whose sink returned an error.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
