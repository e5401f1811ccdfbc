package events

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

// DefaultSendTimeout bounds one delivery to one sink.
const DefaultSendTimeout = 10 * time.Second

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, event *models.Event) error
}

// Dispatcher fans events out to every sink without blocking the publisher.
type Dispatcher struct {
	logger  *logger.Logger
	sinks   []Sink
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *logger.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{logger: logger.Named("events"), sinks: sinks, timeout: timeout}
}

// Publish hands the event to every sink in the background. Events published
// after Close are dropped.
func (d *Dispatcher) Publish(_ context.Context, event *models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Debug("Dropping event after close", "type", event.Type)
		return
	}

	for _, sink := range d.sinks {
		sink := sink
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.safeCall(func() { d.deliver(sink, event) }, sink.Name())
		}()
	}
}

func (d *Dispatcher) deliver(sink Sink, event *models.Event) {
	// deliveries outlive the request that produced the event
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := sink.Send(ctx, event); err != nil {
		d.logger.Warn("Failed to deliver event", "sink", sink.Name(), "type", event.Type, "id", event.ID, "error", err)
	}
}

// safeCall runs a function with panic recovery
func (d *Dispatcher) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Close stops accepting events and waits for pending deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

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
