package events

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/google/uuid"
)

// subscription is one registration of a weakly held subscriber.
type subscription[S, E any] struct {
	id   uuid.UUID
	ref  handlerRef[S, E]
	mode Mode
}

// Publisher dispatches one event stream to its subscribers.
//
// Subscribers are held through weak pointers: a subscription never keeps
// its handler alive, and subscriptions whose handler has been collected are
// dropped on the next dispatch. Dispatches on one publisher never overlap;
// subscribers see events in dispatch order and, within one dispatch, are
// invoked in registration order.
type Publisher[S, E any] struct {
	name string

	// dispatchMu is held for a whole dispatch pass to order concurrent
	// producers. mu only guards subs and closed and is never held while a
	// subscriber runs.
	dispatchMu sync.Mutex
	mu         sync.Mutex
	subs       []subscription[S, E]
	closed     bool
}

// NewPublisher creates a publisher. The name is only used for logs and metrics.
func NewPublisher[S, E any](name string) *Publisher[S, E] {
	return &Publisher[S, E]{name: name}
}

// Subscribe registers h as a recurring subscriber of p and returns the id
// used to unsubscribe it. p does not keep h alive.
func Subscribe[S, E, H any, PH handlerPtr[S, E, H]](p *Publisher[S, E], h PH) uuid.UUID {
	return p.attach(uuid.New(), weakRef[S, E, H, PH](h), ModeRecurring)
}

// SubscribeOnce registers h to be invoked for the next event only.
func SubscribeOnce[S, E, H any, PH handlerPtr[S, E, H]](p *Publisher[S, E], h PH) uuid.UUID {
	return p.attach(uuid.New(), weakRef[S, E, H, PH](h), ModeOnce)
}

// Name returns the diagnostic name of the publisher.
func (p *Publisher[S, E]) Name() string {
	return p.name
}

// Len returns the number of registered subscriptions, including ones whose
// handler was collected but not yet reaped by a dispatch.
func (p *Publisher[S, E]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Subscribed reports whether id is still registered.
func (p *Publisher[S, E]) Subscribed(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.ContainsFunc(p.subs, func(s subscription[S, E]) bool { return s.id == id })
}

// Unsubscribe removes the subscription with the given id. Unknown ids are ignored.
func (p *Publisher[S, E]) Unsubscribe(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = slices.DeleteFunc(p.subs, func(s subscription[S, E]) bool { return s.id == id })
}

func (p *Publisher[S, E]) attach(id uuid.UUID, ref handlerRef[S, E], mode Mode) uuid.UUID {
	p.mu.Lock()
	if !p.closed {
		p.subs = append(p.subs, subscription[S, E]{id: id, ref: ref, mode: mode})
		p.mu.Unlock()
		return id
	}
	p.mu.Unlock()

	// Subscribing to a torn-down publisher behaves as if it closed right after.
	if c, ok := ref().(Closer); ok {
		c.PublisherClosed()
	}
	return id
}

// Dispatch delivers event from sender to every live subscriber on the
// calling goroutine. Subscriptions added while the pass runs are first
// invoked by the next dispatch. Dispatching on p from one of p's own
// subscribers deadlocks.
func (p *Publisher[S, E]) Dispatch(sender S, event E) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	snapshot := slices.Clone(p.subs)
	p.mu.Unlock()

	timer := metrics.NewTimer()
	var remove []uuid.UUID
	invoked := 0

	for _, sub := range snapshot {
		h := sub.ref()
		if h == nil {
			l := log.WithPublisher(p.name)
			l.Debug().Str("subscription_id", sub.id.String()).Msg("Reaping subscription of collected subscriber")
			metrics.SubscriptionsReapedTotal.WithLabelValues(p.name).Inc()
			remove = append(remove, sub.id)
			continue
		}

		invoked++
		if p.invoke(sub.id, h, sender, event) == ActionUnsubscribe || sub.mode == ModeOnce {
			remove = append(remove, sub.id)
		}
	}

	if len(remove) > 0 {
		p.mu.Lock()
		p.subs = slices.DeleteFunc(p.subs, func(s subscription[S, E]) bool {
			return slices.Contains(remove, s.id)
		})
		p.mu.Unlock()
	}

	metrics.DispatchesTotal.WithLabelValues(p.name).Inc()
	metrics.HandlerInvocationsTotal.WithLabelValues(p.name).Add(float64(invoked))
	timer.ObserveDurationVec(metrics.DispatchDuration, p.name)
}

// invoke runs one subscriber, containing any panic so the remaining
// subscribers of the pass still run.
func (p *Publisher[S, E]) invoke(id uuid.UUID, h Subscriber[S, E], sender S, event E) (action Action) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Publisher: p.name, SubscriptionID: id, Value: r}
			l := log.WithPublisher(p.name)
			l.Error().Err(err).Str("stack", string(debug.Stack())).Msg("Subscriber panicked")
			metrics.HandlerPanicsTotal.WithLabelValues(p.name).Inc()
			action = ActionNone
		}
	}()
	return h.Handle(sender, event)
}

// Close tears the publisher down. Live subscribers implementing Closer are
// notified, every subscription is dropped and later dispatches are ignored.
// Close is idempotent and may be called from a subscriber.
func (p *Publisher[S, E]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		if c, ok := sub.ref().(Closer); ok {
			c.PublisherClosed()
		}
	}
}

// Closed reports whether Close has been called.
func (p *Publisher[S, E]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// String implements fmt.Stringer.
func (p *Publisher[S, E]) String() string {
	return fmt.Sprintf("Publisher(%s, %d subscribers)", p.name, p.Len())
}
