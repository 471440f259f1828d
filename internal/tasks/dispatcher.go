package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/metrics"
)

// DefaultTimeout bounds each background task when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// ErrClosed is returned by Go after Shutdown has been called.
var ErrClosed = errors.New("tasks: dispatcher closed")

// Func is a unit of best-effort background work.
type Func func(ctx context.Context) error

// Dispatcher runs fire-and-forget side effects such as sending verification
// emails or quarantining media. Task failures are logged and counted, never
// returned to the caller that scheduled them.
type Dispatcher struct {
	timeout time.Duration
	log     *zap.Logger
	sem     chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	queued  atomic.Int64
	running atomic.Int64

	base   context.Context
	cancel context.CancelFunc
}

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-task deadline.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithConcurrency caps the number of tasks running at once.
func WithConcurrency(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger overrides the logger used to report task failures.
func WithLogger(log *zap.Logger) Option {
	return func(disp *Dispatcher) {
		if log != nil {
			disp.log = log
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	disp := &Dispatcher{
		timeout: DefaultTimeout,
		log:     logger.WithModule("tasks"),
		sem:     make(chan struct{}, 16),
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(disp)
	}
	return disp
}

// Go schedules fn. The task context is detached from any request context so
// a client disconnect does not cancel it; it is bounded by the dispatcher
// timeout instead.
func (d *Dispatcher) Go(name string, fn Func) error {
	if fn == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.wg.Add(1)
	d.queued.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}
		d.queued.Add(-1)
		d.running.Add(1)
		defer func() {
			d.running.Add(-1)
			<-d.sem
		}()

		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		start := time.Now()
		err := d.run(ctx, fn)
		fields := []zap.Field{zap.String("task", name), zap.Duration("duration", time.Since(start))}
		if err != nil {
			metrics.BackgroundTasks.WithLabelValues(name, "failure").Inc()
			d.log.Warn("background task failed", append(fields, zap.Error(err))...)
			return
		}
		metrics.BackgroundTasks.WithLabelValues(name, "success").Inc()
		d.log.Debug("background task completed", fields...)
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Stats is a point-in-time view of the dispatcher's load.
type Stats struct {
	Queued   int64
	Running  int64
	Capacity int
	Closed   bool
}

// Stats reports how many tasks are waiting for a slot and how many are running.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	return Stats{
		Queued:   d.queued.Load(),
		Running:  d.running.Load(),
		Capacity: cap(d.sem),
		Closed:   closed,
	}
}

// Wait blocks until every scheduled task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting tasks and waits for in-flight ones. If ctx expires
// first, running tasks are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
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
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
