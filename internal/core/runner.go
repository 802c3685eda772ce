package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"hftcore/internal/bus"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

var ErrRunnerRunning = errors.New("runner already running")

// Options tune the runner loop.
type Options struct {
	// QueueSize bounds each inbound channel. Zero uses the kernel's.
	QueueSize int
	// Speed paces sandbox data in live mode: 1 replays at recorded speed, 0
	// feeds as fast as the loop turns.
	Speed float64
	// ExitOnFeedEnd ends Run once the sandbox data is exhausted and every
	// channel is empty.
	ExitOnFeedEnd bool
	// Wall measures command latency and paces sandbox data. Nil is wall time.
	Wall bclock.Clock
}

type pendingCommand struct {
	cmd    any
	future *Future
	at     time.Time
}

// Runner owns the only goroutine that touches the kernel. Producers on
// other goroutines hand work over through bounded channels.
type Runner struct {
	k    *Kernel
	opts Options
	wall bclock.Clock

	data     *bus.Queue[any]
	events   *bus.Queue[any]
	commands *bus.Queue[*pendingCommand]
	timers   *bus.Queue[clock.Handler]

	running atomic.Bool
	fatal   error
}

func NewRunner(k *Kernel, opts Options) *Runner {
	if opts.QueueSize <= 0 {
		opts.QueueSize = k.cfg.QueueSize
	}
	if opts.Wall == nil {
		opts.Wall = bclock.New()
	}
	return &Runner{
		k:        k,
		opts:     opts,
		wall:     opts.Wall,
		data:     bus.NewQueue[any](opts.QueueSize),
		events:   bus.NewQueue[any](opts.QueueSize),
		commands: bus.NewQueue[*pendingCommand](opts.QueueSize),
		timers:   bus.NewQueue[clock.Handler](opts.QueueSize),
	}
}

func (r *Runner) Kernel() *Kernel { return r.k }

// Execute queues cmd for dispatch and never blocks. A full queue fails the
// future right away. With a live clock the ctx deadline becomes the deadline
// of a trading command that has none.
func (r *Runner) Execute(ctx context.Context, cmd any) *Future {
	if err := ctx.Err(); err != nil {
		return failedFuture(err)
	}
	if tc, ok := cmd.(command.TradingCommand); ok {
		if _, live := r.k.clock.(*clock.LiveClock); live {
			if dl, has := ctx.Deadline(); has && tc.Header().Deadline == 0 {
				tc.Header().Deadline = model.UnixNanosFromTime(dl)
			}
		}
	}

	p := &pendingCommand{cmd: cmd, future: newFuture(), at: r.wall.Now()}
	if err := r.commands.TryPublish(p); err != nil {
		r.k.metrics.IncQueueDrop()
		return failedFuture(fmt.Errorf("%w: command %T", err, cmd))
	}
	return p.future
}

// SubmitData hands market data or a data response from a client goroutine
// to the runner.
func (r *Runner) SubmitData(msg any) error {
	if err := r.data.TryPublish(msg); err != nil {
		r.k.metrics.IncQueueDrop()
		return fmt.Errorf("%w: data %T", err, msg)
	}
	return nil
}

// SubmitEvent hands an order event, account state or report from a client
// goroutine to the runner.
func (r *Runner) SubmitEvent(msg any) error {
	if err := r.events.TryPublish(msg); err != nil {
		r.k.metrics.IncQueueDrop()
		return fmt.Errorf("%w: event %T", err, msg)
	}
	return nil
}

// RunBacktest feeds the sandbox data in ts_event order under the kernel's
// TestClock. Timers due at or before a data timestamp fire first, each at its
// own time. It returns when the data is exhausted, ctx is done or an
// invariant is violated.
func (r *Runner) RunBacktest(ctx context.Context) error {
	tc, ok := r.k.clock.(*clock.TestClock)
	if !ok {
		return fmt.Errorf("%w: backtest needs a test clock, got %T", exception.ErrInvalidArgument, r.k.clock)
	}
	if err := r.begin(); err != nil {
		return err
	}
	defer r.end()

	var steps int
	for {
		r.drain()
		if r.fatal != nil {
			return r.fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ts, ok := r.nextFeedTs()
		if !ok {
			break
		}
		if err := r.advance(tc, ts); err != nil {
			return err
		}
		if r.fatal != nil {
			return r.fatal
		}
		r.feedUntil(ts)
		steps++
	}
	r.drain()
	if r.fatal != nil {
		return r.fatal
	}
	logs.Infof("[Runner] backtest finished after %d steps at %s", steps, tc.TimestampNs())
	return r.k.CheckIntegrity()
}

// advance fires every timer due up to ts. Timers set by a callback and due
// before ts fire in the same call.
func (r *Runner) advance(tc *clock.TestClock, ts model.UnixNanos) error {
	if ts < tc.TimestampNs() {
		return nil
	}
	for {
		handlers, err := tc.AdvanceTime(ts, false)
		if err != nil {
			return err
		}
		if len(handlers) == 0 {
			break
		}
		for _, h := range handlers {
			tc.SetTime(h.Event.TsEvent)
			r.runTimer(h)
			r.drain()
			if r.fatal != nil {
				return nil
			}
		}
	}
	tc.SetTime(ts)
	return nil
}

// Run multiplexes the inbound channels on the kernel's LiveClock until ctx
// is done. A cache database with a write-behind buffer is flushed by a
// sibling goroutine of the same group.
func (r *Runner) Run(ctx context.Context) error {
	live, ok := r.k.clock.(*clock.LiveClock)
	if !ok {
		return fmt.Errorf("%w: live mode needs a live clock, got %T", exception.ErrInvalidArgument, r.k.clock)
	}
	if err := r.begin(); err != nil {
		return err
	}
	defer r.end()

	live.SetSink(func(h clock.Handler) {
		if err := r.timers.TryPublish(h); err != nil {
			r.k.metrics.IncQueueDrop()
			logs.Warnf("[Runner] drop timer %s, err: %+v", h.Event.Name, err)
		}
	})
	defer live.SetSink(func(h clock.Handler) {
		logs.Debugf("[Runner] stopped, timer %s ignored", h.Event.Name)
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if w, ok := r.k.db.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return r.loop(gctx)
	})
	return g.Wait()
}

var closedC = func() chan time.Time {
	c := make(chan time.Time)
	close(c)
	return c
}()

func (r *Runner) loop(ctx context.Context) error {
	p := &pacer{r: r, speed: r.opts.Speed}
	logs.Infof("[Runner] live loop started")
	for {
		var (
			wake  <-chan time.Time
			timer *bclock.Timer
		)
		if d, ok := p.wait(); ok {
			if d <= 0 {
				wake = closedC
			} else {
				timer = r.wall.Timer(d)
				wake = timer.C
			}
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.drain()
			if r.fatal != nil {
				return r.fatal
			}
			logs.Infof("[Runner] live loop stopped")
			return r.k.CheckIntegrity()
		case m := <-r.events.C():
			r.handleEvent(m)
		case m := <-r.data.C():
			r.handleData(m)
		case c := <-r.commands.C():
			r.runCommand(c)
		case h := <-r.timers.C():
			r.runTimer(h)
		case <-wake:
			p.step()
		}
		if timer != nil {
			timer.Stop()
		}

		if r.fatal != nil {
			return r.fatal
		}
		if r.opts.ExitOnFeedEnd && p.exhausted() && r.idle() {
			logs.Infof("[Runner] sandbox data exhausted")
			return r.k.CheckIntegrity()
		}
	}
}

// pacer maps sandbox ts_event onto the wall clock.
type pacer struct {
	r     *Runner
	speed float64

	started    bool
	anchorWall time.Time
	anchorTs   model.UnixNanos
}

// wait is how long until the next sandbox item is due.
func (p *pacer) wait() (time.Duration, bool) {
	ts, ok := p.r.nextFeedTs()
	if !ok {
		return 0, false
	}
	if p.speed <= 0 {
		return 0, true
	}
	if !p.started {
		p.started = true
		p.anchorWall = p.r.wall.Now()
		p.anchorTs = ts
	}
	due := time.Duration(float64(ts.Sub(p.anchorTs)) / p.speed)
	return due - p.r.wall.Since(p.anchorWall), true
}

func (p *pacer) step() {
	if ts, ok := p.r.nextFeedTs(); ok {
		p.r.feedUntil(ts)
	}
}

func (p *pacer) exhausted() bool {
	_, ok := p.r.nextFeedTs()
	return !ok
}

func (r *Runner) begin() error {
	if !r.k.IsRunning() {
		return fmt.Errorf("%w: kernel is not started", exception.ErrInvalidArgument)
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunnerRunning
	}
	r.fatal = nil
	for _, c := range r.k.dataClients {
		c.SetSink(r.onFeed)
	}
	return nil
}

func (r *Runner) end() {
	for _, c := range r.k.dataClients {
		c.SetSink(r.k.HandleData)
	}
	r.running.Store(false)
}

func (r *Runner) idle() bool {
	return r.data.Len() == 0 && r.events.Len() == 0 && r.commands.Len() == 0 && r.timers.Len() == 0
}

func (r *Runner) nextFeedTs() (model.UnixNanos, bool) {
	var (
		next  model.UnixNanos
		found bool
	)
	for _, c := range r.k.dataClients {
		if ts, ok := c.Peek(); ok && (!found || ts < next) {
			next, found = ts, true
		}
	}
	return next, found
}

// feedUntil emits the sandbox data up to ts, client by client in id order.
func (r *Runner) feedUntil(ts model.UnixNanos) {
	for _, c := range r.k.dataClients {
		c.Until(ts)
		if r.fatal != nil {
			return
		}
	}
}

// onFeed handles one sandbox item and everything it caused before the next.
func (r *Runner) onFeed(msg any) {
	r.handleData(msg)
	r.drain()
}

func (r *Runner) drain() {
	for r.fatal == nil {
		n := r.events.Drain(r.handleEvent)
		n += r.data.Drain(r.handleData)
		n += r.commands.Drain(r.runCommand)
		n += r.timers.Drain(r.runTimer)
		if n == 0 {
			return
		}
	}
}

func (r *Runner) handleData(msg any) {
	r.keep(guard(func() error {
		r.k.HandleData(msg)
		return nil
	}))
}

func (r *Runner) handleEvent(msg any) {
	r.keep(guard(func() error { return r.k.HandleEvent(msg) }))
}

func (r *Runner) runTimer(h clock.Handler) {
	r.keep(guard(func() error {
		h.Run()
		return nil
	}))
}

func (r *Runner) runCommand(p *pendingCommand) {
	if r.fatal != nil {
		p.future.resolve(r.fatal)
		return
	}
	err := guard(func() error { return r.k.Dispatch(p.cmd) })
	r.k.metrics.ObserveCommand(r.wall.Since(p.at))
	p.future.resolve(err)
	r.keep(err)
}

// keep logs err and remembers the first invariant violation, which stops
// the runner.
func (r *Runner) keep(err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, exception.ErrInvariantViolation) {
		logs.Warnf("[Runner] %+v", err)
		return
	}
	if r.fatal == nil {
		logs.Errorf("[Runner] stopping, err: %+v", err)
		r.fatal = err
	}
}

// guard turns a panic into an invariant violation.
func guard(fn func() error) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if e, ok := rec.(error); ok && errors.Is(e, exception.ErrInvariantViolation) {
			err = e
			return
		}
		err = fmt.Errorf("%w: panic: %v", exception.ErrInvariantViolation, rec)
	}()
	return fn()
}
