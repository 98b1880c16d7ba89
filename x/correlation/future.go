package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/universe-player/bridge/x/command"
)

// ErrTimeout is returned by AwaitTimeout when the wait expires first.
var ErrTimeout = errors.New("timed out waiting for result")

// Future is the one-shot handle for a pending request. It is resolved at
// most once; later resolutions are ignored.
type Future struct {
	id     string
	done   chan struct{}
	once   sync.Once
	result command.Result
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// Failed returns a future already resolved with a failure carrying err.
func Failed(id string, err error) *Future {
	f := newFuture(id)
	f.complete(command.Failure(err))
	return f
}

// Resolved returns a future already resolved with r.
func Resolved(id string, r command.Result) *Future {
	f := newFuture(id)
	f.complete(r)
	return f
}

// ID returns the correlation id of the request.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result without blocking; ok is false while pending.
func (f *Future) Result() (r command.Result, ok bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return command.Result{}, false
	}
}

// Await blocks until the result is available or ctx ends. A context error
// leaves the request pending; a reply arriving later is dropped.
func (f *Future) Await(ctx context.Context) (command.Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
}

// AwaitTimeout is Await with a relative deadline.
func (f *Future) AwaitTimeout(d time.Duration) (command.Result, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, nil
	case <-timer.C:
		return command.Result{}, ErrTimeout
	}
}

func (f *Future) complete(r command.Result) bool {
	completed := false
	f.once.Do(func() {
		f.result = r
		close(f.done)
		completed = true
	})
	return completed
}
