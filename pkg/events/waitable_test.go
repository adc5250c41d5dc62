package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connected struct {
	handle uint16
}

func TestEventWaitableDeliversToWaiterAndCallbacks(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	s := &sender{name: "dev"}
	w := NewEventWaitable(p)

	const callbacks = 4
	var mu sync.Mutex
	var got []connected
	for range callbacks {
		w.Then(func(a Args[*sender, connected]) {
			mu.Lock()
			got = append(got, a.Event)
			mu.Unlock()
		})
	}

	result := make(chan Args[*sender, connected], 1)
	errs := make(chan error, 1)
	go func() {
		a, err := w.Wait()
		result <- a
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Dispatch(s, connected{handle: 3})
	p.Dispatch(s, connected{handle: 4})

	require.NoError(t, <-errs)
	a := <-result
	assert.Same(t, s, a.Sender)
	assert.Equal(t, connected{handle: 3}, a.Event)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, callbacks)
	for _, ev := range got {
		assert.Equal(t, connected{handle: 3}, ev)
	}
	assert.False(t, p.Subscribed(w.ID()))
	assert.Equal(t, 0, p.Len())
}

func TestEventWaitableCreatedDuringDispatch(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	s := &sender{name: "dev"}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.Dispatch(s, connected{handle: 1})
			}
		}
	}()

	for range 100 {
		w := NewEventWaitable(p)
		require.NotEqual(t, uuid.Nil, w.ID())
		a, err := w.WaitTimeout(time.Second)
		require.NoError(t, err)
		assert.Equal(t, connected{handle: 1}, a.Event)
	}

	close(stop)
	wg.Wait()
}

func TestEventWaitableTimeoutLeavesArmed(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	w := NewEventWaitable(p)

	start := time.Now()
	_, err := w.WaitTimeout(100 * time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, p.Subscribed(w.ID()))
	assert.Equal(t, 1, p.Len())
}

func TestEventWaitableFiresAfterTimeout(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	w := NewEventWaitable(p)

	calls := 0
	w.Then(func(Args[*sender, connected]) { calls++ })

	_, err := w.WaitTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	p.Dispatch(nil, connected{handle: 9})
	p.Dispatch(nil, connected{handle: 10})

	a, err := w.Wait()
	require.NoError(t, err)
	assert.Equal(t, uint16(9), a.Event.handle)
	assert.Equal(t, 1, calls)
}

func TestEventWaitablePublisherClosed(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	w := NewEventWaitable(p)

	called := false
	w.Then(func(Args[*sender, connected]) { called = true })

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Close()
	}()

	_, err := w.WaitTimeout(2 * time.Second)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.False(t, called)
}

func TestEventWaitableOnClosedPublisher(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	p.Close()

	w := NewEventWaitable(p)
	select {
	case <-w.Done():
	default:
		t.Fatal("waitable on a closed publisher should settle immediately")
	}
	_, err := w.Wait()
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestEventWaitableCancel(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	w := NewEventWaitable(p)

	w.Cancel()
	assert.Equal(t, 0, p.Len())

	_, err := w.Wait()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, ErrChannelClosed)

	// Cancelling after settling keeps the first outcome.
	w.Cancel()
	_, err = w.WaitContext(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestEventWaitableCancelAfterFire(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	w := NewEventWaitable(p)
	p.Dispatch(nil, connected{handle: 1})

	w.Cancel()

	a, err := w.Wait()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), a.Event.handle)
}

func TestEventWaitableWaitContext(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	w := NewEventWaitable(p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.WaitContext(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, p.Subscribed(w.ID()))
}

// armCallback creates a waitable that is only reachable through its
// publisher and the callback it queued.
//
//go:noinline
func armCallback(p *Publisher[*sender, connected], fired chan<- uint16) {
	w := NewEventWaitable(p)
	w.Then(func(a Args[*sender, connected]) { fired <- a.Event.handle })
}

func TestEventWaitableThenOnlySurvivesCollection(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	fired := make(chan uint16, 1)
	armCallback(p, fired)

	collect()
	p.Dispatch(nil, connected{handle: 12})

	select {
	case h := <-fired:
		assert.Equal(t, uint16(12), h)
	default:
		t.Fatal("callback of unreferenced waitable did not run")
	}
	assert.Equal(t, 0, p.Len())
}

//go:noinline
func dropWaitable(p *Publisher[*sender, connected]) {
	NewEventWaitable(p)
}

func TestEventWaitableWithoutCallbacksIsReaped(t *testing.T) {
	p := NewPublisher[*sender, connected]("connect")
	dropWaitable(p)
	require.Equal(t, 1, p.Len())

	collect()
	p.Dispatch(nil, connected{})

	assert.Equal(t, 0, p.Len())
}
