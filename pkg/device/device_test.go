package device

import (
	"runtime"
	"testing"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/driver/sim"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDevice(t *testing.T, port string, opts sim.Options) (*BleDevice, *sim.Transport) {
	t.Helper()
	tr := sim.New(opts)
	m := driver.NewManager()
	dev, err := New(m, driver.Config{Port: port, Transport: tr})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dev.Close()
		_ = m.Shutdown(time.Second)
	})
	require.NoError(t, dev.Open())
	return dev, tr
}

func shortAdvParams() types.AdvParams {
	p := types.DefaultAdvParams()
	p.Timeout = time.Second
	return p
}

// connect starts advertising and has the simulated central connect.
func connect(t *testing.T, dev *BleDevice, tr *sim.Transport) *Peer {
	t.Helper()
	require.NoError(t, dev.Advertiser.SetParams(shortAdvParams(), false))
	w, err := dev.Advertiser.Start()
	require.NoError(t, err)
	require.True(t, tr.Connect())
	peer, err := w.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, peer)
	return peer
}

func TestHelloWorld(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.ConnectAfter = 20 * time.Millisecond
	dev, tr := openDevice(t, "dev-hello", opts)

	adv := NewAdvData().
		SetFlags(AdvFlagGeneralDiscoveryMode | AdvFlagBrEdrNotSupported).
		SetName("Blatann", true)
	require.NoError(t, dev.Advertiser.SetParams(types.AdvParams{
		Interval: 100 * time.Millisecond,
		Timeout:  30 * time.Second,
		Type:     types.AdvTypeConnectableUndirected,
	}, false))
	require.NoError(t, dev.Advertiser.SetData(adv, nil))
	assert.Equal(t, adv.Serialize(), tr.AdvData())

	w, err := dev.Advertiser.Start()
	require.NoError(t, err)
	assert.True(t, dev.Advertiser.IsAdvertising())

	connected := make(chan *Peer, 1)
	w.Then(func(p *Peer) { connected <- p })

	peer, err := w.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Same(t, dev.Client, peer)
	assert.Same(t, peer, <-connected)
	assert.True(t, peer.Connected())
	assert.Equal(t, opts.PeerAddress, peer.Address())
	assert.Equal(t, opts.ConnParams, peer.ConnParams())
	assert.Equal(t, types.Phy1Mbps, peer.CurrentPhy())
	assert.False(t, dev.Advertiser.IsAdvertising())

	dw, err := peer.Disconnect()
	require.NoError(t, err)
	args, err := dw.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Same(t, peer, args.Sender)
	assert.Equal(t, types.HciLocalHostTerminatedConnection, args.Event.Reason)
	assert.False(t, peer.Connected())
	assert.Equal(t, types.ConnHandleInvalid, peer.ConnHandle())
	assert.Equal(t, types.HciLocalHostTerminatedConnection, peer.DisconnectReason())
}

func TestAdvertisingTimeoutResolvesNil(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.AdvTimeoutScale = 0.01
	dev, _ := openDevice(t, "dev-adv-timeout", opts)

	timedOut := events.NewEventWaitable(dev.Advertiser.OnTimeout)
	require.NoError(t, dev.Advertiser.SetParams(shortAdvParams(), false))
	w, err := dev.Advertiser.Start()
	require.NoError(t, err)

	peer, err := w.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Nil(t, peer)

	args, err := timedOut.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Same(t, dev.Advertiser, args.Sender)
	assert.False(t, dev.Advertiser.IsAdvertising())
	assert.Equal(t, PeerStateDisconnected, dev.Client.State())
}

func TestPeerStateFollowsAdvertising(t *testing.T) {
	dev, tr := openDevice(t, "dev-peer-state", sim.DefaultOptions())
	assert.Equal(t, PeerStateDisconnected, dev.Client.State())

	nonConn := shortAdvParams()
	nonConn.Type = types.AdvTypeNonConnectableUndirected
	require.NoError(t, dev.Advertiser.SetParams(nonConn, false))
	w, err := dev.Advertiser.Start()
	require.NoError(t, err)
	assert.Equal(t, PeerStateDisconnected, dev.Client.State())
	require.NoError(t, dev.Advertiser.Stop())
	w.Cancel()

	require.NoError(t, dev.Advertiser.SetParams(shortAdvParams(), false))
	w, err = dev.Advertiser.Start()
	require.NoError(t, err)
	assert.Equal(t, PeerStateConnecting, dev.Client.State())
	assert.False(t, dev.Client.Connected())

	// A failed second start leaves the running advertisement's state alone.
	_, err = dev.Advertiser.Start()
	assert.ErrorIs(t, err, driver.ErrInvalidState)
	assert.Equal(t, PeerStateConnecting, dev.Client.State())

	require.NoError(t, dev.Advertiser.Stop())
	assert.Equal(t, PeerStateDisconnected, dev.Client.State())
	w.Cancel()

	peer := connect(t, dev, tr)
	assert.Equal(t, PeerStateConnected, peer.State())
	assert.Equal(t, "connecting", PeerStateConnecting.String())
}

func TestStartFailureCancelsWaitable(t *testing.T) {
	dev, _ := openDevice(t, "dev-start-fail", sim.DefaultOptions())
	require.NoError(t, dev.Advertiser.SetParams(shortAdvParams(), false))

	first, err := dev.Advertiser.Start()
	require.NoError(t, err)
	before := dev.Driver.Events.Connected.Len()

	_, err = dev.Advertiser.Start()
	assert.ErrorIs(t, err, driver.ErrInvalidState)
	assert.Equal(t, before, dev.Driver.Events.Connected.Len())

	require.NoError(t, dev.Advertiser.Stop())
	require.NoError(t, dev.Advertiser.Stop())
	first.Cancel()
	_, err = first.Wait()
	assert.ErrorIs(t, err, events.ErrCancelled)
	runtime.KeepAlive(first)
}

func TestSetParamsRejectsInvalid(t *testing.T) {
	dev, _ := openDevice(t, "dev-params", sim.DefaultOptions())

	p := types.DefaultAdvParams()
	p.Interval = time.Millisecond
	assert.Error(t, dev.Advertiser.SetParams(p, false))
	assert.Equal(t, types.DefaultAdvParams(), dev.Advertiser.Params())
}

func TestSetDataTooLong(t *testing.T) {
	dev, tr := openDevice(t, "dev-data", sim.DefaultOptions())

	adv := NewAdvData().SetName("a name that is far too long to advertise", true)
	err := dev.Advertiser.SetData(adv, nil)
	assert.ErrorIs(t, err, ErrAdvDataTooLong)
	assert.NotContains(t, tr.Commands(), "ble_gap_adv_data_set")
}

func TestPeerAnswersConnectionProcedures(t *testing.T) {
	dev, tr := openDevice(t, "dev-procedures", sim.DefaultOptions())
	peer := connect(t, dev, tr)
	h := peer.ConnHandle()

	peer.SetPreferredPhy(types.Phy2Mbps)
	phy := events.NewEventWaitable(peer.OnPhyUpdated)
	tr.PeerRequestPhy(h, types.Phys{Tx: types.PhyAuto, Rx: types.PhyAuto})
	p, err := phy.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, PhyUpdateEvent{TxPhy: types.Phy2Mbps, RxPhy: types.Phy2Mbps}, p.Event)
	assert.Equal(t, types.Phy2Mbps, peer.CurrentPhy())

	dle := events.NewEventWaitable(peer.OnDataLengthUpdated)
	tr.PeerRequestDataLength(h, types.DefaultDataLengthParams())
	l, err := dle.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, DataLengthUpdateEvent{TxBytes: 251, RxBytes: 251, TxTimeUs: 2120, RxTimeUs: 2120}, l.Event)

	tr.PeerRequestMemory(h)
	assert.Eventually(t, func() bool {
		for _, c := range tr.Commands() {
			if c == "ble_user_mem_reply" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPeerUpdateProcedures(t *testing.T) {
	dev, tr := openDevice(t, "dev-updates", sim.DefaultOptions())
	peer := connect(t, dev, tr)

	w, err := peer.UpdatePhy()
	require.NoError(t, err)
	p, err := w.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.Phy2Mbps, p.Event.TxPhy)

	params := types.DataLengthParams{MaxTxOctets: 100, MaxRxOctets: 100, MaxTxTimeUs: 900, MaxRxTimeUs: 900}
	dw, err := peer.UpdateDataLength(&params)
	require.NoError(t, err)
	l, err := dw.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), l.Event.TxBytes)
}

func TestPeerRemoteDisconnect(t *testing.T) {
	dev, tr := openDevice(t, "dev-remote-disconnect", sim.DefaultOptions())
	peer := connect(t, dev, tr)
	require.Equal(t, 1, dev.Driver.Events.PhyUpdate.Len())

	w := events.NewEventWaitable(peer.OnDisconnect)
	require.True(t, tr.PeerDisconnect(peer.ConnHandle()))
	args, err := w.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.HciRemoteUserTerminatedConnection, args.Event.Reason)

	// Connection scoped subscriptions are gone once the peer disconnected.
	assert.Equal(t, 0, dev.Driver.Events.PhyUpdate.Len())
	assert.Equal(t, 0, dev.Driver.Events.DataLengthUpdateRequest.Len())

	_, err = peer.Disconnect()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = peer.UpdatePhy()
	assert.ErrorIs(t, err, ErrNotConnected)

	again := connect(t, dev, tr)
	assert.Same(t, peer, again)
	assert.Equal(t, 1, dev.Driver.Events.PhyUpdate.Len())
}

func TestAutoRestartAfterDisconnect(t *testing.T) {
	dev, tr := openDevice(t, "dev-auto-restart", sim.DefaultOptions())
	require.NoError(t, dev.Advertiser.SetParams(shortAdvParams(), true))

	w, err := dev.Advertiser.Start()
	require.NoError(t, err)
	require.True(t, tr.Connect())
	peer, err := w.WaitTimeout(2 * time.Second)
	require.NoError(t, err)

	disconnected := events.NewEventWaitable(peer.OnDisconnect)
	require.True(t, tr.PeerDisconnect(peer.ConnHandle()))
	_, err = disconnected.WaitTimeout(2 * time.Second)
	require.NoError(t, err)

	assert.Eventually(t, tr.Advertising, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, dev.Advertiser.IsAdvertising, 2*time.Second, 10*time.Millisecond)
}

func TestCloseFailsPendingWaitables(t *testing.T) {
	dev, tr := openDevice(t, "dev-close", sim.DefaultOptions())
	require.NoError(t, dev.Advertiser.SetParams(shortAdvParams(), false))
	w, err := dev.Advertiser.Start()
	require.NoError(t, err)
	disconnected := events.NewEventWaitable(dev.Client.OnDisconnect)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	_, err = w.WaitTimeout(2 * time.Second)
	assert.ErrorIs(t, err, events.ErrChannelClosed)
	_, err = disconnected.WaitTimeout(2 * time.Second)
	assert.ErrorIs(t, err, events.ErrChannelClosed)
	assert.False(t, dev.Driver.IsOpen())
	assert.False(t, tr.Connect())
}

func TestNewRejectsDuplicatePort(t *testing.T) {
	m := driver.NewManager()
	defer func() { _ = m.Shutdown(time.Second) }()

	_, err := New(m, driver.Config{Port: "dev-dup", Transport: sim.New(sim.DefaultOptions())})
	require.NoError(t, err)
	_, err = New(m, driver.Config{Port: "dev-dup", Transport: sim.New(sim.DefaultOptions())})
	assert.ErrorIs(t, err, driver.ErrPortExists)
}
