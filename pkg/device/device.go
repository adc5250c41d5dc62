package device

import (
	"fmt"
	"sync"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/types"
)

// BleDevice is the local controller seen as a peripheral: the driver, the
// advertiser and the peer of the central connected to it.
type BleDevice struct {
	Driver     *driver.Driver
	Advertiser *Advertiser
	Client     *Peer

	manager *driver.Manager

	onConnected  *events.Func[*driver.Driver, driver.GapConnected]
	onMemRequest *events.Func[*driver.Driver, driver.MemRequest]

	mu     sync.Mutex
	closed bool
}

// New creates the driver of cfg.Port in m and builds the device on top of
// it. The port is opened by Open.
func New(m *driver.Manager, cfg driver.Config) (*BleDevice, error) {
	drv, err := m.Create(cfg)
	if err != nil {
		return nil, err
	}

	d := &BleDevice{
		Driver:  drv,
		manager: m,
	}
	d.onConnected = events.NewFunc(d.handleConnected)
	d.onMemRequest = events.NewFunc(d.handleMemRequest)

	// The device must see connections before the advertiser and any
	// connection waitable, so that the client peer is up to date when
	// they run.
	events.Subscribe(drv.Events.Connected, d.onConnected)
	events.Subscribe(drv.Events.MemRequest, d.onMemRequest)

	d.Client = newPeer(drv, types.RolePeripheral)
	d.Advertiser = newAdvertiser(drv, d.Client)
	return d, nil
}

// Port returns the serial port of the controller
func (d *BleDevice) Port() string {
	return d.Driver.Port
}

// Open opens the port and enables the BLE stack
func (d *BleDevice) Open() error {
	if err := d.Driver.Open(); err != nil {
		return fmt.Errorf("failed to open %s: %w", d.Port(), err)
	}
	if err := d.Driver.BleEnable(); err != nil {
		return fmt.Errorf("failed to enable BLE on %s: %w", d.Port(), err)
	}

	l := log.WithPort(d.Port())
	l.Info().Msg("Device opened")
	return nil
}

// Address returns the device address
func (d *BleDevice) Address() (types.Address, error) {
	return d.Driver.GapAddrGet()
}

// SetAddress changes the device address. It fails while advertising.
func (d *BleDevice) SetAddress(addr types.Address) error {
	return d.Driver.GapAddrSet(addr)
}

// Close fails every pending waitable of the device and closes the port.
func (d *BleDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.Client.close()
	d.Advertiser.OnTimeout.Close()

	if err := d.manager.Remove(d.Port()); err != nil {
		return err
	}

	l := log.WithPort(d.Port())
	l.Info().Msg("Device closed")
	return nil
}

func (d *BleDevice) handleConnected(_ *driver.Driver, ev driver.GapConnected) events.Action {
	if ev.Role == types.RolePeripheral {
		d.Client.peerConnected(ev.ConnHandle, ev.PeerAddress, ev.ConnParams)
	}
	return events.ActionNone
}

// handleMemRequest answers user memory requests with no buffer, which makes
// the controller handle queued writes itself.
func (d *BleDevice) handleMemRequest(_ *driver.Driver, ev driver.MemRequest) events.Action {
	if err := d.Driver.UserMemReply(ev.ConnHandle); err != nil {
		l := log.WithConnHandle(uint16(ev.ConnHandle))
		l.Warn().Err(err).Msg("Failed to reply to memory request")
	}
	return events.ActionNone
}
