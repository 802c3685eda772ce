package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hftcore/pkg/exception"
)

// ErrAuthTimeout is returned by AuthTracker.Wait when no result arrives in time.
var ErrAuthTimeout = fmt.Errorf("%w: timed out", exception.ErrAuthentication)

// AuthTracker lets the goroutine that connects a client wait for the
// authentication result its reader goroutine reports. Safe for concurrent use.
type AuthTracker struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
	ok   bool
}

func NewAuthTracker() *AuthTracker {
	return &AuthTracker{done: make(chan struct{})}
}

// Begin starts a new attempt, discarding any previous result.
func (a *AuthTracker) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = make(chan struct{})
	a.err = nil
	a.ok = false
}

func (a *AuthTracker) Succeed() { a.finish(nil) }

func (a *AuthTracker) Fail(reason string) {
	a.finish(fmt.Errorf("%w: %s", exception.ErrAuthentication, reason))
}

func (a *AuthTracker) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
		return
	default:
	}
	a.err = err
	a.ok = err == nil
	close(a.done)
}

func (a *AuthTracker) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ok
}

// Wait blocks until the current attempt finishes, the timeout elapses or ctx
// is done.
func (a *AuthTracker) Wait(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.err
	case <-timer.C:
		return ErrAuthTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
