package clock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/yanun0323/logs"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

// LiveClock follows a wall clock. Fired events are handed to the sink, which
// the runner points at its timer channel so callbacks run on the runner
// goroutine. Without a sink callbacks run on the timer goroutine.
type LiveClock struct {
	mu        sync.Mutex
	clk       bclock.Clock
	timers    map[string]*liveTimer
	gen       uint64
	sink      func(Handler)
	defaultCb Callback
}

type liveTimer struct {
	*timer
	gen     uint64
	pending *bclock.Timer
}

// NewLiveClock wraps clk, or the real wall clock when clk is nil.
func NewLiveClock(clk bclock.Clock) *LiveClock {
	if clk == nil {
		clk = bclock.New()
	}
	return &LiveClock{clk: clk, timers: map[string]*liveTimer{}}
}

func (c *LiveClock) SetSink(sink func(Handler)) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *LiveClock) TimestampNs() model.UnixNanos { return model.UnixNanosFromTime(c.clk.Now()) }

func (c *LiveClock) UtcNow() time.Time { return c.clk.Now().UTC() }

func (c *LiveClock) RegisterDefaultHandler(cb Callback) {
	c.mu.Lock()
	c.defaultCb = cb
	c.mu.Unlock()
}

func (c *LiveClock) SetTimer(name string, interval time.Duration, start, stop model.UnixNanos, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := newTimer(name, interval, start, stop, c.TimestampNs(), cb, c.defaultCb)
	if err != nil {
		return err
	}
	return c.addLocked(t)
}

func (c *LiveClock) SetTimeAlert(name string, at model.UnixNanos, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := newAlert(name, at, c.TimestampNs(), cb, c.defaultCb)
	if err != nil {
		return err
	}
	return c.addLocked(t)
}

func (c *LiveClock) addLocked(t *timer) error {
	if _, ok := c.timers[t.name]; ok {
		return fmt.Errorf("%w: timer %s", exception.ErrDuplicateKey, t.name)
	}
	c.gen++
	lt := &liveTimer{timer: t, gen: c.gen}
	c.timers[t.name] = lt
	c.scheduleLocked(lt)
	return nil
}

func (c *LiveClock) scheduleLocked(lt *liveTimer) {
	d := lt.next.Sub(c.TimestampNs())
	if d < 0 {
		d = 0
	}
	name, gen := lt.name, lt.gen
	lt.pending = c.clk.AfterFunc(d, func() { c.fire(name, gen) })
}

func (c *LiveClock) fire(name string, gen uint64) {
	c.mu.Lock()
	lt, ok := c.timers[name]
	if !ok || lt.gen != gen {
		c.mu.Unlock()
		return
	}
	h := Handler{
		Event:    TimeEvent{Name: name, EventID: model.NewUUID4(), TsEvent: lt.next, TsInit: c.TimestampNs()},
		Callback: lt.cb,
	}
	if lt.advance() {
		c.scheduleLocked(lt)
	} else {
		delete(c.timers, name)
	}
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink(h)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("timer %s callback panic: %v", name, r)
		}
	}()
	h.Run()
}

func (c *LiveClock) CancelTimer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lt, ok := c.timers[name]; ok {
		lt.pending.Stop()
		delete(c.timers, name)
	}
}

func (c *LiveClock) CancelTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, lt := range c.timers {
		lt.pending.Stop()
		delete(c.timers, name)
	}
}

func (c *LiveClock) NextTimeNs(name string) (model.UnixNanos, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lt, ok := c.timers[name]
	if !ok {
		return 0, false
	}
	return lt.next, true
}

func (c *LiveClock) TimerNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.timers))
	for n := range c.timers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *LiveClock) TimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Sleep blocks for d on the underlying clock or until ctx is done.
func (c *LiveClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := c.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
