package esl

import (
	"context"
	"sync"
)

// Future is the eventual result of a command. It is resolved exactly once, with
// either a result string or an error.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result string
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// failedFuture returns a Future that is already rejected with err
func failedFuture(err error) *Future {
	f := newFuture()
	f.reject(err)
	return f
}

// resolve completes the future successfully. It reports false if the future was
// already completed.
func (f *Future) resolve(result string) bool {
	return f.complete(result, nil)
}

func (f *Future) reject(err error) bool {
	return f.complete("", err)
}

func (f *Future) complete(result string, err error) bool {
	done := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		done = true
	})
	return done
}

// Done returns a channel that is closed once the future is resolved
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome. It must only be called after Done is closed; before
// that it returns an empty result and a nil error.
func (f *Future) Result() (string, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return "", nil
	}
}

// Wait blocks until the future is resolved or ctx is done. Giving up on a future
// does not cancel the command on the switch.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
