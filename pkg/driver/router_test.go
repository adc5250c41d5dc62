package driver

import (
	"runtime"
	"testing"

	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/cuemby/blatann/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsDispatchByKind(t *testing.T) {
	ev := NewEvents("router-kind")

	var connected []GapConnected
	var timeouts []GapTimeout
	onConnected := events.NewFunc(func(_ *Driver, e GapConnected) events.Action {
		connected = append(connected, e)
		return events.ActionNone
	})
	onTimeout := events.NewFunc(func(_ *Driver, e GapTimeout) events.Action {
		timeouts = append(timeouts, e)
		return events.ActionNone
	})
	events.Subscribe(ev.Connected, onConnected)
	events.Subscribe(ev.Timeout, onTimeout)

	ev.Dispatch(nil, Event{Kind: KindConnected, Payload: GapConnected{ConnHandle: 1, Role: types.RolePeripheral}})
	ev.Dispatch(nil, Event{Kind: KindTimeout, Payload: &GapTimeout{ConnHandle: types.ConnHandleInvalid}})

	require.Len(t, connected, 1)
	assert.Equal(t, types.ConnHandle(1), connected[0].ConnHandle)
	require.Len(t, timeouts, 1)
	assert.Equal(t, types.TimeoutSourceAdvertising, timeouts[0].Source)

	runtime.KeepAlive(onConnected)
	runtime.KeepAlive(onTimeout)
}

func TestEventsRawSeesEveryEvent(t *testing.T) {
	ev := NewEvents("router-raw")

	var kinds []EventKind
	raw := events.NewFunc(func(_ *Driver, e Event) events.Action {
		kinds = append(kinds, e.Kind)
		return events.ActionNone
	})
	events.Subscribe(ev.Raw, raw)

	ev.Dispatch(nil, Event{Kind: KindDisconnected, Payload: GapDisconnected{}})
	ev.Dispatch(nil, Event{Kind: EventKind(0x99), Payload: nil})

	assert.Equal(t, []EventKind{KindDisconnected, EventKind(0x99)}, kinds)
	runtime.KeepAlive(raw)
}

func TestEventsDropsUnknownKind(t *testing.T) {
	const port = "router-unknown"
	ev := NewEvents(port)
	dropped := metrics.DriverEventsDropped.WithLabelValues(port, "unknown_kind")
	before := testutil.ToFloat64(dropped)

	assert.NotPanics(t, func() {
		ev.Dispatch(nil, Event{Kind: EventKind(0x7F), Payload: "garbage"})
	})
	assert.Equal(t, before+1, testutil.ToFloat64(dropped))
}

func TestEventsDropsMismatchedPayload(t *testing.T) {
	const port = "router-mismatch"
	ev := NewEvents(port)

	called := false
	h := events.NewFunc(func(*Driver, GapConnected) events.Action {
		called = true
		return events.ActionNone
	})
	events.Subscribe(ev.Connected, h)

	dropped := metrics.DriverEventsDropped.WithLabelValues(port, "payload_mismatch")
	before := testutil.ToFloat64(dropped)

	ev.Dispatch(nil, Event{Kind: KindConnected, Payload: GapDisconnected{}})
	ev.Dispatch(nil, Event{Kind: KindConnected, Payload: (*GapConnected)(nil)})

	assert.False(t, called)
	assert.Equal(t, before+2, testutil.ToFloat64(dropped))
	runtime.KeepAlive(h)
}

func TestEventsUnsubscribeByKind(t *testing.T) {
	ev := NewEvents("router-unsubscribe")
	calls := 0
	h := events.NewFunc(func(*Driver, GapDisconnected) events.Action {
		calls++
		return events.ActionNone
	})
	id := events.Subscribe(ev.Disconnected, h)

	ev.Unsubscribe(KindDisconnected, id)
	ev.Unsubscribe(EventKind(0x55), id)
	ev.Dispatch(nil, Event{Kind: KindDisconnected, Payload: GapDisconnected{}})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, ev.Disconnected.Len())
	runtime.KeepAlive(h)
}

func TestEventsCloseFailsWaitables(t *testing.T) {
	ev := NewEvents("router-close")
	w := events.NewEventWaitable(ev.Connected)
	raw := events.NewEventWaitable(ev.Raw)

	ev.Close()

	_, err := w.Wait()
	assert.ErrorIs(t, err, events.ErrChannelClosed)
	_, err = raw.Wait()
	assert.ErrorIs(t, err, events.ErrChannelClosed)
	assert.True(t, ev.Timeout.Closed())
}

func TestEventsKinds(t *testing.T) {
	ev := NewEvents("router-kinds")
	assert.Equal(t, []EventKind{
		KindMemRequest,
		KindMemRelease,
		KindConnected,
		KindDisconnected,
		KindTimeout,
		KindPhyUpdateRequest,
		KindPhyUpdate,
		KindDataLengthUpdateRequest,
		KindDataLengthUpdate,
	}, ev.Kinds())
}
