package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
)

// Waitable is a one-shot result produced by some future event.
type Waitable[T any] interface {
	// Wait blocks until the result is available.
	Wait() (T, error)

	// WaitTimeout blocks for at most d. ErrTimeout leaves the waitable armed.
	WaitTimeout(d time.Duration) (T, error)

	// WaitContext blocks until the result is available or ctx is done.
	WaitContext(ctx context.Context) (T, error)

	// Then registers fn to run once with the result, on the goroutine that
	// produces it. If the result is already there, fn runs immediately.
	Then(fn func(T))

	// Cancel abandons the wait. Pending and future waits fail with ErrCancelled.
	Cancel()
}

type futureState int

const (
	futureArmed futureState = iota
	futureFired
	futureFailed
)

// pinned keeps armed futures with pending callbacks reachable, together with
// the owner that must stay alive for them to fire.
var pinned sync.Map

// Future is a one-shot cell that is either resolved with a value or failed
// with an error, exactly once. Readers block on it or queue callbacks.
type Future[T any] struct {
	mu        sync.Mutex
	state     futureState
	value     T
	err       error
	done      chan struct{}
	callbacks []func(T)
	owner     any
	isPinned  bool
}

// NewFuture creates an armed future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// KeepAlive makes owner reachable while the future is armed and has
// callbacks queued. Waitables use it so that callers registering only
// callbacks do not have to retain them.
func (f *Future[T]) KeepAlive(owner any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = owner
	if f.state == futureArmed && len(f.callbacks) > 0 {
		f.pinLocked()
	}
}

func (f *Future[T]) pinLocked() {
	if f.owner == nil || f.isPinned {
		return
	}
	pinned.Store(f, f.owner)
	f.isPinned = true
}

func (f *Future[T]) unpinLocked() {
	if f.isPinned {
		pinned.Delete(f)
		f.isPinned = false
	}
}

// Resolve stores v and releases every waiter and callback. It returns false
// if the future was already settled, in which case v is discarded.
func (f *Future[T]) Resolve(v T) bool {
	f.mu.Lock()
	if f.state != futureArmed {
		f.mu.Unlock()
		return false
	}
	f.state = futureFired
	f.value = v
	callbacks := f.callbacks
	f.callbacks = nil
	f.unpinLocked()
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		runCallback(fn, v)
	}
	return true
}

// Fail settles the future with err and drops queued callbacks. It returns
// false if the future was already settled.
func (f *Future[T]) Fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != futureArmed {
		return false
	}
	f.state = futureFailed
	f.err = err
	if n := len(f.callbacks); n > 0 {
		l := log.WithComponent("events")
		l.Debug().Err(err).Int("callbacks", n).Msg("Dropping callbacks of failed waitable")
	}
	f.callbacks = nil
	f.unpinLocked()
	close(f.done)
	return true
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether Resolve or Fail has happened.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future[T]) result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks until the future is settled.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.result()
}

// WaitTimeout blocks until the future is settled or d elapses.
func (f *Future[T]) WaitTimeout(d time.Duration) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result()
	case <-timer.C:
		metrics.WaitableOutcomesTotal.WithLabelValues("timeout").Inc()
		var zero T
		return zero, ErrTimeout
	}
}

// WaitContext blocks until the future is settled or ctx is done. A context
// deadline is reported as ErrTimeout wrapping the context error.
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.WaitableOutcomesTotal.WithLabelValues("timeout").Inc()
			return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// Then queues fn for the resolved value. It runs immediately on the calling
// goroutine if the future already fired, and never if it failed.
func (f *Future[T]) Then(fn func(T)) {
	f.mu.Lock()
	switch f.state {
	case futureArmed:
		f.callbacks = append(f.callbacks, fn)
		f.pinLocked()
		f.mu.Unlock()
	case futureFired:
		v := f.value
		f.mu.Unlock()
		runCallback(fn, v)
	default:
		f.mu.Unlock()
	}
}

// runCallback isolates a panicking callback from the others queued with it.
func runCallback[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			l := log.WithComponent("events")
			l.Error().Interface("panic", r).Msg("Waitable callback panicked")
		}
	}()
	fn(v)
}
