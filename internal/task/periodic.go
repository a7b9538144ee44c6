// Package task implements the background scheduling used by the telemetry
// pipeline: a cancellable periodic job that flushes accumulated data on a
// timer, on demand, and one last time on shutdown.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FlushFunc is the unit of work executed on every tick.
type FlushFunc func(ctx context.Context) error

// Ticker abstracts time.Ticker so tests can drive the schedule manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker firing every period.
type TickerFactory func(period time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the production TickerFactory backed by time.Ticker.
func NewTimeTicker(period time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(period)}
}

// Option customizes a Periodic task.
type Option func(*Periodic)

// WithTicker replaces the ticker factory (used by tests).
func WithTicker(factory TickerFactory) Option {
	return func(p *Periodic) {
		p.newTicker = factory
	}
}

// Periodic runs a FlushFunc on a fixed interval.
//
// Lifecycle: Stopped -> Running -> Stopped. Start is idempotent, Stop cancels
// the timer and performs exactly one final flush, Cancel stops without
// flushing. Flushes never overlap.
type Periodic struct {
	name      string
	period    time.Duration
	fn        FlushFunc
	logger    *slog.Logger
	newTicker TickerFactory

	mu      sync.Mutex // guards lifecycle fields below
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}

	flushMu sync.Mutex
}

// NewPeriodic creates a stopped task.
func NewPeriodic(logger *slog.Logger, name string, period time.Duration, fn FlushFunc, opts ...Option) *Periodic {
	if logger == nil {
		logger = slog.Default()
	}
	if fn == nil {
		panic("task: flush function cannot be nil")
	}
	if period <= 0 {
		panic(fmt.Sprintf("task: period for %q must be positive, got %s", name, period))
	}

	p := &Periodic{
		name:      name,
		period:    period,
		fn:        fn,
		logger:    logger.With(slog.String("task", name)),
		newTicker: NewTimeTicker,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background loop. Calling Start on a running task is a no-op.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.trigger = make(chan struct{}, 1)
	p.running = true

	p.logger.Info("starting periodic task", slog.String("period", p.period.String()))

	go p.loop(ctx, p.newTicker(p.period), p.trigger, p.done)
}

// Stop cancels future ticks, waits for an in-flight flush and then flushes one
// last time. There is no timeout beyond the one carried by ctx.
func (p *Periodic) Stop(ctx context.Context) error {
	if !p.halt() {
		return nil
	}

	p.logger.Info("periodic task stopped, running final flush")
	return p.Flush(ctx)
}

// Cancel stops the task immediately without a final flush.
func (p *Periodic) Cancel() {
	if p.halt() {
		p.logger.Info("periodic task cancelled")
	}
}

// IsRunning reports whether the background loop is active.
func (p *Periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RequestFlush asks the running loop for an early flush without blocking.
// Requests are coalesced and ignored while the task is stopped.
func (p *Periodic) RequestFlush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Flush runs the flush function once, serialized with timer-driven flushes.
// Panics raised by the flush function are recovered and returned as errors.
func (p *Periodic) Flush(ctx context.Context) (err error) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s: flush panicked: %v", p.name, r)
			p.logger.Error("flush panicked", slog.Any("panic", r))
		}
	}()

	start := time.Now()
	if err = p.fn(ctx); err != nil {
		p.logger.Error("flush failed",
			slog.String("error", err.Error()),
			slog.String("duration", time.Since(start).String()),
		)
		return err
	}

	p.logger.Debug("flush completed", slog.String("duration", time.Since(start).String()))
	return nil
}

// halt stops the loop and reports whether it was running.
func (p *Periodic) halt() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return true
}

func (p *Periodic) loop(ctx context.Context, ticker Ticker, trigger <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	// Flushes started by the loop must survive Stop so that data already
	// swapped out of the accumulators is not lost mid-upload.
	flushCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_ = p.Flush(flushCtx)
		case <-trigger:
			_ = p.Flush(flushCtx)
		}
	}
}
