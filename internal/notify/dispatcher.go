package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type DispatcherOption func(*Dispatcher)

// WithFailureHook is called for every event that could not be delivered,
// including events dropped because the queue was full.
func WithFailureHook(fn func(event Event, err error)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onFailure = fn
	}
}

func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Dispatcher delivers events on a background goroutine so a slow or failing
// channel never holds up the caller that just committed.
type Dispatcher struct {
	next      Notifier
	logger    *zap.Logger
	onFailure func(event Event, err error)
	queueSize int
	timeout   time.Duration

	queue     chan Event
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewDispatcher(next Notifier, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:      next,
		logger:    logger.Named("notify"),
		queueSize: 256,
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Event, d.queueSize)

	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch enqueues event without blocking.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.fail(event, ErrDispatcherClosed)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.fail(event, ErrQueueFull)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("notifier panicked", zap.String("event", event.Type), zap.Any("panic", p))
			d.fail(event, ErrNotifierPanic)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.next.Notify(ctx, event); err != nil {
		d.fail(event, err)
	}
}

func (d *Dispatcher) fail(event Event, err error) {
	d.logger.Warn("notification not delivered",
		zap.String("event", event.Type),
		zap.String("sale_id", event.SaleID),
		zap.Error(err),
	)
	if d.onFailure != nil {
		d.onFailure(event, err)
	}
}

// Close stops accepting events and waits for queued ones to drain or for ctx
// to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
