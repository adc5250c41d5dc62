package events

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sender struct {
	name string
}

// recorder stores every event it sees. It holds pointer fields so that it
// is allocated as a regular heap object and can actually be collected.
type recorder struct {
	mu     sync.Mutex
	events []string
	action Action
	closed bool
}

func (r *recorder) Handle(_ *sender, event string) Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.action
}

func (r *recorder) PublisherClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// subscribeTemporary subscribes a recorder that nothing else references
// once this function returns.
//
//go:noinline
func subscribeTemporary(p *Publisher[*sender, string], hits *int) {
	h := NewFunc(func(*sender, string) Action {
		*hits++
		return ActionNone
	})
	Subscribe(p, h)
}

func collect() {
	for range 3 {
		runtime.GC()
	}
}

func TestPublisherRecurringAndOnce(t *testing.T) {
	p := NewPublisher[*sender, string]("timeout")
	s := &sender{name: "dev"}

	recurring := &recorder{}
	once := &recorder{}
	Subscribe(p, recurring)
	onceID := SubscribeOnce(p, once)
	assert.Equal(t, 2, p.Len())

	p.Dispatch(s, "ev1")
	p.Dispatch(s, "ev2")

	assert.Equal(t, []string{"ev1", "ev2"}, recurring.seen())
	assert.Equal(t, []string{"ev1"}, once.seen())
	assert.Equal(t, 1, p.Len())
	assert.False(t, p.Subscribed(onceID))
}

func TestPublisherOnceInvokedAtMostOnce(t *testing.T) {
	p := NewPublisher[*sender, string]("once")
	h := &recorder{}
	SubscribeOnce(p, h)

	for range 10 {
		p.Dispatch(nil, "ev")
	}

	assert.Len(t, h.seen(), 1)
	assert.Equal(t, 0, p.Len())
}

func TestPublisherActionUnsubscribe(t *testing.T) {
	p := NewPublisher[*sender, string]("action")
	h := &recorder{action: ActionUnsubscribe}
	id := Subscribe(p, h)

	p.Dispatch(nil, "a")
	p.Dispatch(nil, "b")

	assert.Equal(t, []string{"a"}, h.seen())
	assert.False(t, p.Subscribed(id))
}

func TestPublisherUnsubscribe(t *testing.T) {
	p := NewPublisher[*sender, string]("unsubscribe")
	a := &recorder{}
	b := &recorder{}
	idA := Subscribe(p, a)
	Subscribe(p, b)

	p.Unsubscribe(idA)
	p.Unsubscribe(idA)
	p.Dispatch(nil, "ev")

	assert.Empty(t, a.seen())
	assert.Equal(t, []string{"ev"}, b.seen())
	assert.Equal(t, 1, p.Len())
}

func TestPublisherRegistrationOrder(t *testing.T) {
	p := NewPublisher[*sender, string]("order")
	var got []int
	handlers := make([]*Func[*sender, string], 5)
	for i := range handlers {
		handlers[i] = NewFunc(func(*sender, string) Action {
			got = append(got, i)
			return ActionNone
		})
		Subscribe(p, handlers[i])
	}

	p.Dispatch(nil, "ev")

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	runtime.KeepAlive(handlers)
}

func TestPublisherReapsCollectedSubscriber(t *testing.T) {
	p := NewPublisher[*sender, string]("reap")
	hits := 0
	subscribeTemporary(p, &hits)
	require.Equal(t, 1, p.Len())

	collect()
	p.Dispatch(nil, "ev")

	assert.Equal(t, 0, hits)
	assert.Equal(t, 0, p.Len())
}

func TestPublisherReapKeepsLiveSubscribers(t *testing.T) {
	p := NewPublisher[*sender, string]("reap-mixed")
	live := &recorder{}
	Subscribe(p, live)
	hits := 0
	subscribeTemporary(p, &hits)
	require.Equal(t, 2, p.Len())

	collect()
	p.Dispatch(nil, "ev")

	assert.Equal(t, 0, hits)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, []string{"ev"}, live.seen())
	runtime.KeepAlive(live)
}

func TestPublisherReentrantSubscribe(t *testing.T) {
	p := NewPublisher[*sender, string]("reentrant")
	added := &recorder{}

	self := NewFunc(func(*sender, string) Action {
		Subscribe(p, added)
		return ActionUnsubscribe
	})
	Subscribe(p, self)

	done := make(chan struct{})
	go func() {
		p.Dispatch(nil, "first")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch deadlocked on re-entrant subscribe")
	}

	// The subscription added during the pass only sees the next dispatch.
	assert.Empty(t, added.seen())
	p.Dispatch(nil, "second")
	assert.Equal(t, []string{"second"}, added.seen())
	assert.Equal(t, 1, p.Len())
	runtime.KeepAlive(self)
}

func TestPublisherReentrantUnsubscribeOther(t *testing.T) {
	p := NewPublisher[*sender, string]("reentrant-unsubscribe")
	second := &recorder{}
	var secondID uuid.UUID

	first := NewFunc(func(*sender, string) Action {
		p.Unsubscribe(secondID)
		return ActionNone
	})
	Subscribe(p, first)
	secondID = Subscribe(p, second)

	p.Dispatch(nil, "ev")

	// The in-flight snapshot still includes the removed subscription.
	assert.Equal(t, []string{"ev"}, second.seen())
	assert.False(t, p.Subscribed(secondID))

	p.Dispatch(nil, "ev2")
	assert.Equal(t, []string{"ev"}, second.seen())
	runtime.KeepAlive(first)
}

func TestPublisherDispatchesDoNotInterleave(t *testing.T) {
	p := NewPublisher[*sender, string]("ordering")

	var mu sync.Mutex
	var trace []string
	record := func(name string) *Func[*sender, string] {
		return NewFunc(func(_ *sender, ev string) Action {
			mu.Lock()
			trace = append(trace, name+":"+ev)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			return ActionNone
		})
	}
	a := record("a")
	b := record("b")
	Subscribe(p, a)
	Subscribe(p, b)

	const rounds = 50
	var wg sync.WaitGroup
	for _, ev := range []string{"x", "y"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				p.Dispatch(nil, ev)
			}
		}()
	}
	wg.Wait()

	require.Len(t, trace, 4*rounds)
	for i := 0; i < len(trace); i += 2 {
		ev := trace[i][2:]
		assert.Equal(t, "a:"+ev, trace[i])
		assert.Equal(t, "b:"+ev, trace[i+1], "dispatch passes interleaved at %d", i)
	}
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestPublisherRecoversPanickingSubscriber(t *testing.T) {
	p := NewPublisher[*sender, string]("panic")
	bad := NewFunc(func(*sender, string) Action {
		panic("boom")
	})
	good := &recorder{}
	badID := Subscribe(p, bad)
	Subscribe(p, good)

	assert.NotPanics(t, func() { p.Dispatch(nil, "ev") })
	assert.Equal(t, []string{"ev"}, good.seen())
	assert.True(t, p.Subscribed(badID))
	runtime.KeepAlive(bad)
}

func TestPublisherClose(t *testing.T) {
	p := NewPublisher[*sender, string]("close")
	h := &recorder{}
	Subscribe(p, h)

	p.Close()
	p.Close()

	assert.True(t, p.Closed())
	assert.True(t, h.closed)
	assert.Equal(t, 0, p.Len())

	p.Dispatch(nil, "ignored")
	assert.Empty(t, h.seen())
}

func TestPublisherSubscribeAfterClose(t *testing.T) {
	p := NewPublisher[*sender, string]("closed")
	p.Close()

	h := &recorder{}
	Subscribe(p, h)

	assert.True(t, h.closed)
	assert.Equal(t, 0, p.Len())
}

func TestPublisherString(t *testing.T) {
	p := NewPublisher[*sender, string]("gap.connected")
	h := &recorder{}
	Subscribe(p, h)

	assert.Equal(t, "Publisher(gap.connected, 1 subscribers)", p.String())
}

func TestActionAndModeString(t *testing.T) {
	assert.Equal(t, "none", ActionNone.String())
	assert.Equal(t, "unsubscribe", ActionUnsubscribe.String())
	assert.Equal(t, "unknown", Action(9).String())
	assert.Equal(t, "recurring", ModeRecurring.String())
	assert.Equal(t, "once", ModeOnce.String())
	assert.Equal(t, "unknown", Mode(9).String())
}
