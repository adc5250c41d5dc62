package device

import (
	"context"
	"runtime"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/cuemby/blatann/pkg/types"
	"github.com/google/uuid"
)

// ConnectionWaitable resolves with the peer of the next connection in a given
// role, or with nil when the procedure that would create it times out.
type ConnectionWaitable struct {
	future *events.Future[*Peer]
	driver *driver.Driver
	peer   *Peer
	role   types.Role

	onConnected *events.Func[*driver.Driver, driver.GapConnected]
	onTimeout   *events.Func[*driver.Driver, driver.GapTimeout]
	connectedID uuid.UUID
	timeoutID   uuid.UUID
}

var _ events.Waitable[*Peer] = (*ConnectionWaitable)(nil)

func newConnectionWaitable(d *driver.Driver, peer *Peer, role types.Role) *ConnectionWaitable {
	w := &ConnectionWaitable{
		future: events.NewFuture[*Peer](),
		driver: d,
		peer:   peer,
		role:   role,
	}
	w.future.KeepAlive(w)
	w.onConnected = events.NewFunc(w.handleConnected).OnClose(w.channelClosed)
	w.onTimeout = events.NewFunc(w.handleTimeout).OnClose(w.channelClosed)
	w.connectedID = events.Subscribe(d.Events.Connected, w.onConnected)
	w.timeoutID = events.Subscribe(d.Events.Timeout, w.onTimeout)
	return w
}

func (w *ConnectionWaitable) handleConnected(_ *driver.Driver, ev driver.GapConnected) events.Action {
	if ev.Role != w.role {
		return events.ActionNone
	}
	w.resolve(w.peer)
	return events.ActionUnsubscribe
}

func (w *ConnectionWaitable) handleTimeout(_ *driver.Driver, ev driver.GapTimeout) events.Action {
	switch {
	case w.role == types.RolePeripheral && ev.Source == types.TimeoutSourceAdvertising:
	case w.role == types.RoleCentral && ev.Source == types.TimeoutSourceConn:
	default:
		return events.ActionNone
	}
	w.resolve(nil)
	return events.ActionUnsubscribe
}

func (w *ConnectionWaitable) unsubscribe() {
	w.driver.UnsubscribeFromEvent(driver.KindConnected, w.connectedID)
	w.driver.UnsubscribeFromEvent(driver.KindTimeout, w.timeoutID)
}

func (w *ConnectionWaitable) resolve(p *Peer) {
	w.unsubscribe()
	if w.future.Resolve(p) {
		outcome := "fired"
		if p == nil {
			outcome = "timeout"
		}
		metrics.WaitableOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}

func (w *ConnectionWaitable) channelClosed() {
	if w.future.Fail(events.ErrChannelClosed) {
		metrics.WaitableOutcomesTotal.WithLabelValues("closed").Inc()
	}
}

// Done is closed once the waitable settled
func (w *ConnectionWaitable) Done() <-chan struct{} {
	return w.future.Done()
}

// Wait implements events.Waitable.
func (w *ConnectionWaitable) Wait() (*Peer, error) {
	defer runtime.KeepAlive(w)
	return w.future.Wait()
}

// WaitTimeout implements events.Waitable.
func (w *ConnectionWaitable) WaitTimeout(d time.Duration) (*Peer, error) {
	defer runtime.KeepAlive(w)
	return w.future.WaitTimeout(d)
}

// WaitContext implements events.Waitable.
func (w *ConnectionWaitable) WaitContext(ctx context.Context) (*Peer, error) {
	defer runtime.KeepAlive(w)
	return w.future.WaitContext(ctx)
}

// Then implements events.Waitable.
func (w *ConnectionWaitable) Then(fn func(*Peer)) {
	w.future.Then(fn)
}

// Cancel implements events.Waitable.
func (w *ConnectionWaitable) Cancel() {
	w.unsubscribe()
	if w.future.Fail(events.ErrCancelled) {
		metrics.WaitableOutcomesTotal.WithLabelValues("cancelled").Inc()
	}
}
