package device

import (
	"fmt"
	"sync"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/cuemby/blatann/pkg/types"
	"github.com/google/uuid"
)

// PeerState is the connection state of a peer
type PeerState int

const (
	PeerStateDisconnected PeerState = iota
	PeerStateConnecting
	PeerStateConnected
)

func (s PeerState) String() string {
	switch s {
	case PeerStateDisconnected:
		return "disconnected"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateConnected:
		return "connected"
	default:
		return fmt.Sprintf("PeerState(%d)", int(s))
	}
}

// connSub is a driver subscription that only lives as long as one connection
type connSub struct {
	kind driver.EventKind
	id   uuid.UUID
}

// Peer is the remote end of a connection. One Peer value is reused across
// connections; its publishers stay valid until the device is closed.
type Peer struct {
	role   types.Role
	driver *driver.Driver

	mu               sync.Mutex
	state            PeerState
	connHandle       types.ConnHandle
	address          types.Address
	connParams       types.ConnParams
	preferredPhy     types.Phy
	currentPhy       types.Phy
	disconnectReason types.HciStatus
	connSubs         []connSub

	onDisconnected   *events.Func[*driver.Driver, driver.GapDisconnected]
	onPhyRequest     *events.Func[*driver.Driver, driver.GapPhyUpdateRequest]
	onPhyUpdate      *events.Func[*driver.Driver, driver.GapPhyUpdate]
	onDataLenRequest *events.Func[*driver.Driver, driver.GapDataLengthUpdateRequest]
	onDataLenUpdate  *events.Func[*driver.Driver, driver.GapDataLengthUpdate]
	disconnectedID   uuid.UUID

	OnConnect           *events.Publisher[*Peer, ConnectionEvent]
	OnDisconnect        *events.Publisher[*Peer, DisconnectionEvent]
	OnPhyUpdated        *events.Publisher[*Peer, PhyUpdateEvent]
	OnDataLengthUpdated *events.Publisher[*Peer, DataLengthUpdateEvent]
}

func newPeer(d *driver.Driver, role types.Role) *Peer {
	p := &Peer{
		role:         role,
		driver:       d,
		connHandle:   types.ConnHandleInvalid,
		preferredPhy: types.PhyAuto,
		currentPhy:   types.Phy1Mbps,

		OnConnect:           events.NewPublisher[*Peer, ConnectionEvent](d.Port + ".peer.connect"),
		OnDisconnect:        events.NewPublisher[*Peer, DisconnectionEvent](d.Port + ".peer.disconnect"),
		OnPhyUpdated:        events.NewPublisher[*Peer, PhyUpdateEvent](d.Port + ".peer.phy_updated"),
		OnDataLengthUpdated: events.NewPublisher[*Peer, DataLengthUpdateEvent](d.Port + ".peer.data_length_updated"),
	}
	p.onDisconnected = events.NewFunc(p.handleDisconnected)
	p.onPhyRequest = events.NewFunc(p.handlePhyRequest)
	p.onPhyUpdate = events.NewFunc(p.handlePhyUpdate)
	p.onDataLenRequest = events.NewFunc(p.handleDataLengthRequest)
	p.onDataLenUpdate = events.NewFunc(p.handleDataLengthUpdate)

	p.disconnectedID = events.Subscribe(d.Events.Disconnected, p.onDisconnected)
	return p
}

// Role returns the local role on connections with this peer
func (p *Peer) Role() types.Role {
	return p.role
}

// State returns the connection state
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connected reports whether the peer has an active connection
func (p *Peer) Connected() bool {
	return p.State() == PeerStateConnected
}

// ConnHandle returns the handle of the active connection, or
// ConnHandleInvalid.
func (p *Peer) ConnHandle() types.ConnHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connHandle
}

// Address returns the address of the last connected peer
func (p *Peer) Address() types.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address
}

// ConnParams returns the parameters negotiated for the connection
func (p *Peer) ConnParams() types.ConnParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connParams
}

// CurrentPhy returns the PHY in use on the connection
func (p *Peer) CurrentPhy() types.Phy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPhy
}

// PreferredPhy returns the PHYs accepted when the peer asks for an update
func (p *Peer) PreferredPhy() types.Phy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preferredPhy
}

// SetPreferredPhy sets the PHYs used to answer and start PHY updates
func (p *Peer) SetPreferredPhy(phy types.Phy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferredPhy = phy
}

// DisconnectReason returns the reason of the last disconnection
func (p *Peer) DisconnectReason() types.HciStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectReason
}

// Disconnect terminates the connection. The returned waitable fires with the
// disconnection event.
func (p *Peer) Disconnect() (*events.EventWaitable[*Peer, DisconnectionEvent], error) {
	h, err := p.activeHandle()
	if err != nil {
		return nil, err
	}

	// Subscribe before the command so a fast disconnection is not missed.
	w := events.NewEventWaitable(p.OnDisconnect)
	if err := p.driver.GapDisconnect(h); err != nil {
		w.Cancel()
		return nil, err
	}
	return w, nil
}

// UpdatePhy asks for the preferred PHYs. The returned waitable fires once
// the controller reports the PHYs in use.
func (p *Peer) UpdatePhy() (*events.EventWaitable[*Peer, PhyUpdateEvent], error) {
	h, err := p.activeHandle()
	if err != nil {
		return nil, err
	}
	phy := p.PreferredPhy()

	w := events.NewEventWaitable(p.OnPhyUpdated)
	if err := p.driver.GapPhyUpdate(h, phy, phy); err != nil {
		w.Cancel()
		return nil, err
	}
	return w, nil
}

// UpdateDataLength starts a data length update. A nil params lets the
// controller pick its maximum.
func (p *Peer) UpdateDataLength(params *types.DataLengthParams) (*events.EventWaitable[*Peer, DataLengthUpdateEvent], error) {
	h, err := p.activeHandle()
	if err != nil {
		return nil, err
	}

	w := events.NewEventWaitable(p.OnDataLengthUpdated)
	if err := p.driver.GapDataLengthUpdate(h, params); err != nil {
		w.Cancel()
		return nil, err
	}
	return w, nil
}

// setConnecting marks a disconnected peer as waiting for a central and
// reports whether the state changed.
func (p *Peer) setConnecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PeerStateDisconnected {
		return false
	}
	p.state = PeerStateConnecting
	return true
}

// cancelConnecting returns a peer that was waiting for a central to the
// disconnected state.
func (p *Peer) cancelConnecting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerStateConnecting {
		p.state = PeerStateDisconnected
	}
}

func (p *Peer) activeHandle() (types.ConnHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PeerStateConnected {
		return types.ConnHandleInvalid, ErrNotConnected
	}
	return p.connHandle, nil
}

// peerConnected moves the peer to the connected state and subscribes to the
// procedures that only make sense while the connection is up.
func (p *Peer) peerConnected(h types.ConnHandle, addr types.Address, params types.ConnParams) {
	p.mu.Lock()
	wasConnected := p.state == PeerStateConnected
	stale := p.connSubs
	p.connSubs = nil
	p.state = PeerStateConnected
	p.connHandle = h
	p.address = addr
	p.connParams = params
	p.currentPhy = types.Phy1Mbps
	p.mu.Unlock()

	for _, s := range stale {
		p.driver.UnsubscribeFromEvent(s.kind, s.id)
	}

	subs := []connSub{
		{driver.KindPhyUpdateRequest, events.Subscribe(p.driver.Events.PhyUpdateRequest, p.onPhyRequest)},
		{driver.KindPhyUpdate, events.Subscribe(p.driver.Events.PhyUpdate, p.onPhyUpdate)},
		{driver.KindDataLengthUpdateRequest, events.Subscribe(p.driver.Events.DataLengthUpdateRequest, p.onDataLenRequest)},
		{driver.KindDataLengthUpdate, events.Subscribe(p.driver.Events.DataLengthUpdate, p.onDataLenUpdate)},
	}
	p.mu.Lock()
	p.connSubs = subs
	p.mu.Unlock()

	if !wasConnected {
		metrics.PeersConnected.Inc()
	}

	l := log.WithConnHandle(uint16(h))
	l.Info().
		Str("peer_address", addr.String()).
		Str("role", p.role.String()).
		Msg("Peer connected")

	p.OnConnect.Dispatch(p, ConnectionEvent{})
}

func (p *Peer) handleDisconnected(_ *driver.Driver, ev driver.GapDisconnected) events.Action {
	p.mu.Lock()
	if p.state != PeerStateConnected || ev.ConnHandle != p.connHandle {
		p.mu.Unlock()
		return events.ActionNone
	}
	subs := p.connSubs
	p.connSubs = nil
	p.state = PeerStateDisconnected
	p.connHandle = types.ConnHandleInvalid
	p.disconnectReason = ev.Reason
	p.mu.Unlock()

	for _, s := range subs {
		p.driver.UnsubscribeFromEvent(s.kind, s.id)
	}
	metrics.PeersConnected.Dec()

	l := log.WithConnHandle(uint16(ev.ConnHandle))
	l.Info().Str("reason", ev.Reason.String()).Msg("Peer disconnected")

	p.OnDisconnect.Dispatch(p, DisconnectionEvent{Reason: ev.Reason})
	return events.ActionNone
}

func (p *Peer) handlePhyRequest(_ *driver.Driver, ev driver.GapPhyUpdateRequest) events.Action {
	if ev.ConnHandle != p.ConnHandle() {
		return events.ActionNone
	}
	phy := p.PreferredPhy()
	if err := p.driver.GapPhyUpdate(ev.ConnHandle, phy, phy); err != nil {
		l := log.WithConnHandle(uint16(ev.ConnHandle))
		l.Warn().Err(err).Msg("Failed to answer PHY update request")
	}
	return events.ActionNone
}

func (p *Peer) handlePhyUpdate(_ *driver.Driver, ev driver.GapPhyUpdate) events.Action {
	p.mu.Lock()
	if ev.ConnHandle != p.connHandle {
		p.mu.Unlock()
		return events.ActionNone
	}
	if ev.Status == types.HciSuccess {
		p.currentPhy = ev.TxPhy | ev.RxPhy
	}
	p.mu.Unlock()

	if ev.Status != types.HciSuccess {
		l := log.WithConnHandle(uint16(ev.ConnHandle))
		l.Warn().Str("status", ev.Status.String()).Msg("PHY update failed")
	}
	p.OnPhyUpdated.Dispatch(p, PhyUpdateEvent{TxPhy: ev.TxPhy, RxPhy: ev.RxPhy})
	return events.ActionNone
}

func (p *Peer) handleDataLengthRequest(_ *driver.Driver, ev driver.GapDataLengthUpdateRequest) events.Action {
	if ev.ConnHandle != p.ConnHandle() {
		return events.ActionNone
	}
	if err := p.driver.GapDataLengthUpdate(ev.ConnHandle, nil); err != nil {
		l := log.WithConnHandle(uint16(ev.ConnHandle))
		l.Warn().Err(err).Msg("Failed to answer data length update request")
	}
	return events.ActionNone
}

func (p *Peer) handleDataLengthUpdate(_ *driver.Driver, ev driver.GapDataLengthUpdate) events.Action {
	if ev.ConnHandle != p.ConnHandle() {
		return events.ActionNone
	}
	params := ev.EffectiveParams
	p.OnDataLengthUpdated.Dispatch(p, DataLengthUpdateEvent{
		TxBytes:  params.MaxTxOctets,
		RxBytes:  params.MaxRxOctets,
		TxTimeUs: params.MaxTxTimeUs,
		RxTimeUs: params.MaxRxTimeUs,
	})
	return events.ActionNone
}

// close fails every waitable pending on the peer's publishers
func (p *Peer) close() {
	p.driver.UnsubscribeFromEvent(driver.KindDisconnected, p.disconnectedID)

	p.mu.Lock()
	subs := p.connSubs
	p.connSubs = nil
	if p.state == PeerStateConnected {
		metrics.PeersConnected.Dec()
	}
	p.state = PeerStateDisconnected
	p.connHandle = types.ConnHandleInvalid
	p.mu.Unlock()

	for _, s := range subs {
		p.driver.UnsubscribeFromEvent(s.kind, s.id)
	}

	p.OnConnect.Close()
	p.OnDisconnect.Close()
	p.OnPhyUpdated.Close()
	p.OnDataLengthUpdated.Close()
}
