package events

import (
	"context"
	"runtime"
	"time"

	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/google/uuid"
)

// Args is one dispatched event together with its sender.
type Args[S, E any] struct {
	Sender S
	Event  E
}

// EventWaitable turns the next event of a publisher into a Waitable.
//
// It subscribes itself as a one-shot subscriber when created. The first
// event resolves it: blocked waiters return the event and callbacks queued
// with Then run on the dispatching goroutine. Closing the publisher first
// fails it with ErrChannelClosed. An EventWaitable is never re-armed.
type EventWaitable[S, E any] struct {
	future *Future[Args[S, E]]
	source *Publisher[S, E]
	id     uuid.UUID
}

var _ Waitable[Args[struct{}, struct{}]] = (*EventWaitable[struct{}, struct{}])(nil)

// NewEventWaitable creates a waitable bound to the next event of p.
func NewEventWaitable[S, E any](p *Publisher[S, E]) *EventWaitable[S, E] {
	w := &EventWaitable[S, E]{
		future: NewFuture[Args[S, E]](),
		source: p,
		id:     uuid.New(),
	}
	w.future.KeepAlive(w)
	p.attach(w.id, weakRef[S, E, EventWaitable[S, E]](w), ModeOnce)
	return w
}

// ID returns the subscription id of the waitable on its publisher.
func (w *EventWaitable[S, E]) ID() uuid.UUID {
	return w.id
}

// Done is closed once the waitable fired, failed or was cancelled.
func (w *EventWaitable[S, E]) Done() <-chan struct{} {
	return w.future.Done()
}

// Handle implements Subscriber.
func (w *EventWaitable[S, E]) Handle(sender S, event E) Action {
	if w.future.Resolve(Args[S, E]{Sender: sender, Event: event}) {
		metrics.WaitableOutcomesTotal.WithLabelValues("fired").Inc()
	} else {
		l := log.WithPublisher(w.source.Name())
		l.Debug().Str("subscription_id", w.id.String()).Msg("Waitable already settled, dropping event")
	}
	return ActionUnsubscribe
}

// PublisherClosed implements Closer.
func (w *EventWaitable[S, E]) PublisherClosed() {
	if w.future.Fail(ErrChannelClosed) {
		metrics.WaitableOutcomesTotal.WithLabelValues("closed").Inc()
	}
}

// Cancel unsubscribes the waitable and fails it with ErrCancelled.
// Cancelling a settled waitable has no effect.
func (w *EventWaitable[S, E]) Cancel() {
	w.source.Unsubscribe(w.id)
	if w.future.Fail(ErrCancelled) {
		metrics.WaitableOutcomesTotal.WithLabelValues("cancelled").Inc()
	}
}

// The wait methods keep w reachable while blocked: the publisher only holds
// it weakly, so a waiter that dropped every other reference must not let it
// be collected before it fires.

// Wait blocks until the event fires or the publisher is closed.
func (w *EventWaitable[S, E]) Wait() (Args[S, E], error) {
	defer runtime.KeepAlive(w)
	return w.future.Wait()
}

// WaitTimeout blocks for at most d.
func (w *EventWaitable[S, E]) WaitTimeout(d time.Duration) (Args[S, E], error) {
	defer runtime.KeepAlive(w)
	return w.future.WaitTimeout(d)
}

// WaitContext blocks until the event fires or ctx is done.
func (w *EventWaitable[S, E]) WaitContext(ctx context.Context) (Args[S, E], error) {
	defer runtime.KeepAlive(w)
	return w.future.WaitContext(ctx)
}

// Then registers fn to run with the event once it fires.
func (w *EventWaitable[S, E]) Then(fn func(Args[S, E])) {
	w.future.Then(fn)
}
