package events

import "weak"

// Action is what a subscriber asks of its publisher after handling an event.
type Action int

const (
	// ActionNone keeps the subscription, unless it was registered as one-shot.
	ActionNone Action = iota

	// ActionUnsubscribe removes the subscription regardless of its mode.
	ActionUnsubscribe
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// Mode controls whether a subscription survives its first invocation.
type Mode int

const (
	// ModeRecurring subscriptions stay registered until removed.
	ModeRecurring Mode = iota

	// ModeOnce subscriptions are removed after their first invocation.
	ModeOnce
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeRecurring:
		return "recurring"
	case ModeOnce:
		return "once"
	default:
		return "unknown"
	}
}

// Subscriber reacts to events of type E emitted by senders of type S.
//
// Handle runs synchronously on the dispatching goroutine. It may subscribe
// or unsubscribe on the same publisher; it must not dispatch on it.
type Subscriber[S, E any] interface {
	Handle(sender S, event E) Action
}

// Closer is implemented by subscribers that want to hear about the
// teardown of a publisher they are still registered on.
type Closer interface {
	PublisherClosed()
}

// handlerPtr constrains subscribe helpers to pointer subscribers, which
// are the only values that can be observed through a weak pointer.
type handlerPtr[S, E, H any] interface {
	*H
	Subscriber[S, E]
}

// handlerRef resolves a weakly held subscriber, or nil once collected.
type handlerRef[S, E any] func() Subscriber[S, E]

func weakRef[S, E, H any, PH handlerPtr[S, E, H]](h PH) handlerRef[S, E] {
	wp := weak.Make((*H)(h))
	return func() Subscriber[S, E] {
		p := wp.Value()
		if p == nil {
			return nil
		}
		return PH(p)
	}
}

// Func adapts a function to Subscriber. Publishers only hold it weakly, so
// the owner must keep the returned pointer for as long as it wants events.
type Func[S, E any] struct {
	fn      func(S, E) Action
	onClose func()
}

// NewFunc wraps fn as a subscriber.
func NewFunc[S, E any](fn func(sender S, event E) Action) *Func[S, E] {
	return &Func[S, E]{fn: fn}
}

// OnClose sets a callback run when a publisher holding f is closed.
func (f *Func[S, E]) OnClose(fn func()) *Func[S, E] {
	f.onClose = fn
	return f
}

// Handle implements Subscriber.
func (f *Func[S, E]) Handle(sender S, event E) Action {
	return f.fn(sender, event)
}

// PublisherClosed implements Closer.
func (f *Func[S, E]) PublisherClosed() {
	if f.onClose != nil {
		f.onClose()
	}
}
