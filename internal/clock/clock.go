// Package clock provides the time source and timers shared by every engine.
// TestClock is advanced explicitly by the runner; LiveClock follows wall time.
package clock

import (
	"fmt"
	"time"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

type TimeEvent struct {
	Name    string
	EventID model.UUID4
	TsEvent model.UnixNanos
	TsInit  model.UnixNanos
}

type Callback func(TimeEvent)

// Handler pairs a fired event with the callback that should receive it.
type Handler struct {
	Event    TimeEvent
	Callback Callback
}

func (h Handler) Run() {
	if h.Callback != nil {
		h.Callback(h.Event)
	}
}

type Clock interface {
	TimestampNs() model.UnixNanos
	UtcNow() time.Time
	// SetTimer fires every interval from start+interval until stop (0 = forever).
	// A zero start means now.
	SetTimer(name string, interval time.Duration, start, stop model.UnixNanos, cb Callback) error
	// SetTimeAlert fires once at the given time.
	SetTimeAlert(name string, at model.UnixNanos, cb Callback) error
	CancelTimer(name string)
	CancelTimers()
	NextTimeNs(name string) (model.UnixNanos, bool)
	TimerNames() []string
	TimerCount() int
	RegisterDefaultHandler(cb Callback)
}

type timer struct {
	name     string
	interval int64
	next     model.UnixNanos
	stop     model.UnixNanos
	cb       Callback
	seq      uint64
}

func (t *timer) isAlert() bool { return t.interval == 0 }

// advance moves to the next fire time and reports whether the timer is still live.
func (t *timer) advance() bool {
	if t.isAlert() {
		return false
	}
	t.next += model.UnixNanos(t.interval)
	return t.stop == 0 || t.next <= t.stop
}

func newTimer(name string, interval time.Duration, start, stop, now model.UnixNanos, cb, fallback Callback) (*timer, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: timer name is empty", exception.ErrInvalidArgument)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: timer %s interval must be positive", exception.ErrInvalidArgument, name)
	}
	if cb == nil {
		cb = fallback
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: timer %s has no callback", exception.ErrInvalidArgument, name)
	}
	if start == 0 {
		start = now
	}
	t := &timer{name: name, interval: int64(interval), next: start + model.UnixNanos(interval), stop: stop, cb: cb}
	if stop != 0 && t.next > stop {
		return nil, fmt.Errorf("%w: timer %s would never fire before stop", exception.ErrInvalidArgument, name)
	}
	return t, nil
}

func newAlert(name string, at, now model.UnixNanos, cb, fallback Callback) (*timer, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: alert name is empty", exception.ErrInvalidArgument)
	}
	if at < now {
		return nil, fmt.Errorf("%w: alert %s at %s is in the past", exception.ErrInvalidArgument, name, at)
	}
	if cb == nil {
		cb = fallback
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: alert %s has no callback", exception.ErrInvalidArgument, name)
	}
	return &timer{name: name, next: at, cb: cb}, nil
}
