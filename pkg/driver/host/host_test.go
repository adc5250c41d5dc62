package host

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

type fakeAdapter struct {
	enabled bool
	handler func(bluetooth.Device, bool)
}

func (f *fakeAdapter) Enable() error {
	f.enabled = true
	return nil
}

func (f *fakeAdapter) SetConnectHandler(c func(device bluetooth.Device, connected bool)) {
	f.handler = c
}

type fakeAdvertisement struct {
	mu      sync.Mutex
	options bluetooth.AdvertisementOptions
	running bool
}

func (f *fakeAdvertisement) Configure(options bluetooth.AdvertisementOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = options
	return nil
}

func (f *fakeAdvertisement) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeAdvertisement) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeAdvertisement) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeConn struct {
	disconnected bool
}

func (f *fakeConn) Disconnect() error {
	f.disconnected = true
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []driver.Event
}

func (r *recorder) sink(ev driver.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []driver.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]driver.Event(nil), r.events...)
}

func newTestTransport(t *testing.T) (*Transport, *fakeAdapter, *fakeAdvertisement, *recorder) {
	t.Helper()
	a := &fakeAdapter{}
	adv := &fakeAdvertisement{}
	rec := &recorder{}
	tr := NewWithAdapter(a, adv)
	require.NoError(t, tr.Open(rec.sink))
	return tr, a, adv, rec
}

func TestEnable(t *testing.T) {
	tr, a, _, _ := newTestTransport(t)

	_, err := tr.Call(driver.GapAdvStart{Params: types.DefaultAdvParams()})
	assert.ErrorIs(t, err, driver.ErrBleNotEnabled)

	_, err = tr.Call(driver.BleEnable{})
	require.NoError(t, err)
	assert.True(t, a.enabled)
	assert.NotNil(t, a.handler)

	_, err = tr.Call(driver.BleEnable{})
	assert.ErrorIs(t, err, driver.ErrInvalidState)

	_, err = tr.Call(driver.GapPhyUpdateCmd{})
	assert.ErrorIs(t, err, driver.ErrNotSupported)
}

func TestAdvertiseConfiguresHostStack(t *testing.T) {
	tr, _, adv, _ := newTestTransport(t)
	_, err := tr.Call(driver.BleEnable{})
	require.NoError(t, err)

	payload := []byte{
		0x02, 0x01, 0x06,
		0x03, 0x03, 0x0D, 0x18,
		0x05, 0x09, 'T', 'e', 's', 't',
	}
	_, err = tr.Call(driver.GapAdvDataSet{AdvData: payload})
	require.NoError(t, err)

	params := types.DefaultAdvParams()
	_, err = tr.Call(driver.GapAdvStart{Params: params})
	require.NoError(t, err)
	assert.True(t, adv.isRunning())
	assert.Equal(t, "Test", adv.options.LocalName)
	assert.Equal(t, []bluetooth.UUID{bluetooth.New16BitUUID(0x180D)}, adv.options.ServiceUUIDs)
	assert.Equal(t, bluetooth.NewDuration(params.Interval), adv.options.Interval)

	_, err = tr.Call(driver.GapAdvStart{Params: params})
	assert.ErrorIs(t, err, driver.ErrInvalidState)

	_, err = tr.Call(driver.GapAdvStop{})
	require.NoError(t, err)
	assert.False(t, adv.isRunning())
	_, err = tr.Call(driver.GapAdvStop{})
	assert.ErrorIs(t, err, driver.ErrInvalidState)
}

func TestAdvertisingTimeout(t *testing.T) {
	tr, _, adv, rec := newTestTransport(t)
	_, err := tr.Call(driver.BleEnable{})
	require.NoError(t, err)

	params := types.DefaultAdvParams()
	params.Timeout = 20 * time.Millisecond
	_, err = tr.Call(driver.GapAdvStart{Params: params})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := rec.all()[0]
	assert.Equal(t, driver.KindTimeout, ev.Kind)
	assert.Equal(t, types.TimeoutSourceAdvertising, ev.Payload.(driver.GapTimeout).Source)
	assert.False(t, adv.isRunning())
}

func TestConnectAndDisconnect(t *testing.T) {
	tr, _, _, rec := newTestTransport(t)
	_, err := tr.Call(driver.BleEnable{})
	require.NoError(t, err)
	_, err = tr.Call(driver.GapAdvStart{Params: types.DefaultAdvParams()})
	require.NoError(t, err)

	first := &fakeConn{}
	second := &fakeConn{}
	tr.handleConnect("C0:00:00:00:00:01", first, true)
	tr.handleConnect("C0:00:00:00:00:02", second, true)

	events := rec.all()
	require.Len(t, events, 2)
	c := events[0].Payload.(driver.GapConnected)
	assert.Equal(t, types.ConnHandle(0), c.ConnHandle)
	assert.Equal(t, types.RolePeripheral, c.Role)
	assert.Equal(t, "C0:00:00:00:00:01", c.PeerAddress.String())

	// Local disconnect is reported once even if the host calls back.
	_, err = tr.Call(driver.GapDisconnect{ConnHandle: 0})
	require.NoError(t, err)
	assert.True(t, first.disconnected)
	require.Eventually(t, func() bool { return len(rec.all()) == 3 }, 2*time.Second, 5*time.Millisecond)
	tr.handleConnect("C0:00:00:00:00:01", first, false)

	tr.handleConnect("C0:00:00:00:00:02", second, false)

	events = rec.all()
	require.Len(t, events, 4)
	assert.Equal(t, driver.GapDisconnected{ConnHandle: 0, Reason: types.HciLocalHostTerminatedConnection}, events[2].Payload)
	assert.Equal(t, driver.GapDisconnected{ConnHandle: 1, Reason: types.HciRemoteUserTerminatedConnection}, events[3].Payload)

	_, err = tr.Call(driver.GapDisconnect{ConnHandle: 1})
	assert.ErrorIs(t, err, driver.ErrBleInvalidConnHandle)
}

func TestParseAdvDataTruncated(t *testing.T) {
	_, err := parseAdvData([]byte{0x05, 0x09, 'a'})
	assert.ErrorIs(t, err, driver.ErrInvalidLength)

	opts, err := parseAdvData(nil)
	require.NoError(t, err)
	assert.Empty(t, opts.LocalName)
}
