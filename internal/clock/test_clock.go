package clock

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

// TestClock is a manually advanced clock for simulation and tests. It is not
// safe for concurrent use.
type TestClock struct {
	now       model.UnixNanos
	timers    map[string]*timer
	seq       uint64
	defaultCb Callback
}

func NewTestClock(start model.UnixNanos) *TestClock {
	return &TestClock{now: start, timers: map[string]*timer{}}
}

func (c *TestClock) TimestampNs() model.UnixNanos { return c.now }

func (c *TestClock) UtcNow() time.Time { return c.now.Time() }

// SetTime moves the clock without firing timers.
func (c *TestClock) SetTime(t model.UnixNanos) { c.now = t }

func (c *TestClock) RegisterDefaultHandler(cb Callback) { c.defaultCb = cb }

func (c *TestClock) add(t *timer) error {
	if _, ok := c.timers[t.name]; ok {
		return fmt.Errorf("%w: timer %s", exception.ErrDuplicateKey, t.name)
	}
	c.seq++
	t.seq = c.seq
	c.timers[t.name] = t
	return nil
}

func (c *TestClock) SetTimer(name string, interval time.Duration, start, stop model.UnixNanos, cb Callback) error {
	t, err := newTimer(name, interval, start, stop, c.now, cb, c.defaultCb)
	if err != nil {
		return err
	}
	return c.add(t)
}

func (c *TestClock) SetTimeAlert(name string, at model.UnixNanos, cb Callback) error {
	t, err := newAlert(name, at, c.now, cb, c.defaultCb)
	if err != nil {
		return err
	}
	return c.add(t)
}

func (c *TestClock) CancelTimer(name string) { delete(c.timers, name) }

func (c *TestClock) CancelTimers() { clear(c.timers) }

func (c *TestClock) NextTimeNs(name string) (model.UnixNanos, bool) {
	t, ok := c.timers[name]
	if !ok {
		return 0, false
	}
	return t.next, true
}

func (c *TestClock) TimerNames() []string {
	names := make([]string, 0, len(c.timers))
	for n := range c.timers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *TestClock) TimerCount() int { return len(c.timers) }

type pending struct {
	h   Handler
	seq uint64
}

// AdvanceTime collects every timer event due at or before to, ordered by
// fire time then timer creation order. Callbacks are not invoked.
func (c *TestClock) AdvanceTime(to model.UnixNanos, setTime bool) ([]Handler, error) {
	if to < c.now {
		return nil, fmt.Errorf("%w: cannot advance clock backwards from %s to %s", exception.ErrInvalidArgument, c.now, to)
	}
	var due []pending
	for name, t := range c.timers {
		for t.next <= to {
			due = append(due, pending{
				h: Handler{
					Event:    TimeEvent{Name: name, EventID: model.NewUUID4(), TsEvent: t.next, TsInit: t.next},
					Callback: t.cb,
				},
				seq: t.seq,
			})
			if !t.advance() {
				delete(c.timers, name)
				break
			}
		}
	}
	slices.SortFunc(due, func(a, b pending) int {
		if a.h.Event.TsEvent != b.h.Event.TsEvent {
			if a.h.Event.TsEvent < b.h.Event.TsEvent {
				return -1
			}
			return 1
		}
		return int(a.seq) - int(b.seq)
	})
	out := make([]Handler, len(due))
	for i, p := range due {
		out[i] = p.h
	}
	if setTime {
		c.now = to
	}
	return out, nil
}
