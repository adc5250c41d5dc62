/*
Package events provides synchronous publishers with weakly held subscribers
and waitables that turn the next event of a publisher into a blocking result.

Every asynchronous notification coming out of a BLE driver (connections,
disconnections, timeouts, PHY and data length negotiation) flows through a
Publisher. Higher layers either subscribe for the lifetime of an object or
create a waitable for one specific event.

# Architecture

	┌──────────────── DRIVER DISPATCH GOROUTINE ─────────────────┐
	│                                                             │
	│   driver event ──► Publisher[*Driver, GapConnected]         │
	│                         │                                    │
	│                         │ snapshot (registration order)      │
	│                         ▼                                    │
	│        ┌────────────┬────────────┬──────────────┐           │
	│        │ weak ref   │ weak ref   │ weak ref     │           │
	│        │ Peer       │ Advertiser │ EventWaitable│           │
	│        └─────┬──────┴─────┬──────┴──────┬───────┘           │
	│              │            │             │                    │
	│          ActionNone   ActionNone   ActionUnsubscribe         │
	│                                         │                    │
	│                                         ▼                    │
	│                                  Future resolved ──► Wait()  │
	└─────────────────────────────────────────────────────────────┘

# Core Components

Publisher:
  - Holds an ordered list of subscriptions, each with a uuid id and a mode
  - Dispatch invokes subscribers on the calling goroutine
  - Concurrent dispatches on one publisher are serialized
  - Subscriptions whose subscriber was garbage collected are reaped on dispatch
  - Close notifies subscribers implementing Closer and drops all subscriptions

Subscriber:
  - Any pointer type with Handle(sender, event) Action
  - ActionUnsubscribe removes the subscription after the call
  - Func wraps a plain function; keep the *Func alive for as long as needed

Future:
  - One-shot cell settled exactly once by Resolve or Fail
  - Wait, WaitTimeout and WaitContext block readers
  - Then queues callbacks run on the goroutine that resolves it

EventWaitable:
  - Subscribes itself once on creation
  - Resolves with Args{Sender, Event} from the first event
  - Fails with ErrChannelClosed if the publisher closes first
  - Cancel unsubscribes and fails pending waits with ErrCancelled

# Ownership

Publishers never keep subscribers alive. An object subscribing its own
methods must hold a pointer to the subscriber it registered. A waitable used
only through Then is pinned internally until it settles, so fire-and-forget
callbacks do not need an owner.

# Usage

	connected := events.NewPublisher[*driver.Driver, driver.GapConnected]("gap.connected")

	w := events.NewEventWaitable(connected)
	go connected.Dispatch(d, driver.GapConnected{ConnHandle: 0})

	args, err := w.WaitTimeout(5 * time.Second)
	if errors.Is(err, events.ErrTimeout) {
		// still armed; wait again or Cancel
	}

Recurring subscription:

	h := events.NewFunc(func(d *driver.Driver, ev driver.GapConnected) events.Action {
		log.Logger.Info().Msg("Connected")
		return events.ActionNone
	})
	id := events.Subscribe(connected, h)
	defer connected.Unsubscribe(id)

# Re-entrancy

A subscriber may subscribe or unsubscribe on the publisher that is
invoking it. New subscriptions are first invoked on the next dispatch.
Dispatching on the same publisher from inside one of its subscribers
deadlocks; hand the event to another goroutine instead.

# Monitoring

  - blatann_dispatches_total{publisher}
  - blatann_handler_invocations_total{publisher}
  - blatann_subscriptions_reaped_total{publisher}
  - blatann_handler_panics_total{publisher}
  - blatann_dispatch_duration_seconds{publisher}
  - blatann_waitable_outcomes_total{outcome}
*/
package events
