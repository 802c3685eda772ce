package core

import "context"

// Future is the outcome of a command submitted to the runner.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func failedFuture(err error) *Future {
	f := newFuture()
	f.resolve(err)
	return f
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the command was dispatched.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err is the dispatch error. It is nil until Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the command was dispatched or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}
