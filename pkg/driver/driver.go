package driver

import (
	"fmt"
	"sync"

	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/cuemby/blatann/pkg/types"
	"github.com/google/uuid"
)

// DefaultQueueSize is the number of events buffered between a transport
// and the dispatch goroutine.
const DefaultQueueSize = 64

// Config holds the settings of one driver
type Config struct {
	Port           string
	Baud           uint32
	QueueSize      int
	LogDriverComms bool
	Transport      Transport
}

// Driver is the connection to one controller.
//
// Commands are synchronous and serialized. Events are queued by the
// transport and dispatched in arrival order on a goroutine owned by the
// driver, so subscribers never run concurrently with each other.
type Driver struct {
	// Port is the serial port the controller is attached to
	Port string

	// Events routes controller events to typed publishers
	Events *Events

	cfg       Config
	transport Transport

	cmdMu sync.Mutex

	mu   sync.RWMutex
	open bool

	queue    chan Event
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newDriver(cfg Config) *Driver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Driver{
		Port:      cfg.Port,
		Events:    NewEvents(cfg.Port),
		cfg:       cfg,
		transport: cfg.Transport,
		queue:     make(chan Event, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// run drains the event queue until the driver is stopped, then closes
// every publisher so that pending waitables fail.
func (d *Driver) run() {
	defer close(d.done)
	defer d.Events.Close()

	for {
		select {
		case ev := <-d.queue:
			d.processEvent(ev)
		case <-d.stopCh:
			if n := len(d.queue); n > 0 {
				l := log.WithPort(d.Port)
				l.Debug().Int("pending", n).Msg("Discarding queued events on shutdown")
				metrics.DriverEventsDropped.WithLabelValues(d.Port, "shutdown").Add(float64(n))
			}
			return
		}
	}
}

func (d *Driver) processEvent(ev Event) {
	if d.cfg.LogDriverComms {
		l := log.WithPort(d.Port)
		l.Debug().Str("kind", ev.Kind.String()).Interface("payload", ev.Payload).Msg("Event")
	}
	d.Events.Dispatch(d, ev)
}

// enqueue is the EventSink handed to the transport. It blocks while the
// queue is full and drops events once the driver is stopped.
func (d *Driver) enqueue(ev Event) {
	select {
	case d.queue <- ev:
	case <-d.stopCh:
		metrics.DriverEventsDropped.WithLabelValues(d.Port, "stopped").Inc()
	}
}

// stop ends the dispatch goroutine without waiting for it
func (d *Driver) stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Done is closed once the dispatch goroutine has exited and every
// publisher of the driver is closed.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// QueueDepth returns the number of events waiting to be dispatched
func (d *Driver) QueueDepth() int {
	return len(d.queue)
}

// IsOpen reports whether the port is open
func (d *Driver) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.open
}

// Open opens the port. Opening an open driver is a no-op.
func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}

	l := log.WithPort(d.Port)
	l.Info().Uint32("baud", d.cfg.Baud).Msg("Opening port")

	if err := d.transport.Open(d.enqueue); err != nil {
		return fmt.Errorf("failed to open port %s: %w", d.Port, err)
	}
	d.open = true
	return nil
}

// Close closes the port and stops event dispatch. It does not wait for the
// dispatch goroutine, so it is safe to call from a subscriber; use Done to
// wait.
func (d *Driver) Close() error {
	d.mu.Lock()
	wasOpen := d.open
	d.open = false
	d.mu.Unlock()

	var err error
	if wasOpen {
		l := log.WithPort(d.Port)
		l.Info().Msg("Closing port")
		if cerr := d.transport.Close(); cerr != nil {
			err = fmt.Errorf("failed to close port %s: %w", d.Port, cerr)
		}
	}
	d.stop()
	return err
}

func (d *Driver) call(cmd Command) (any, error) {
	if !d.IsOpen() {
		return nil, fmt.Errorf("%s: %w", cmd.CommandName(), ErrPortClosed)
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if d.cfg.LogDriverComms {
		l := log.WithPort(d.Port)
		l.Trace().Str("command", cmd.CommandName()).Interface("args", cmd).Msg("Command")
	}

	res, err := d.transport.Call(cmd)
	if err != nil {
		metrics.DriverCommandsFailed.WithLabelValues(cmd.CommandName()).Inc()
		return nil, fmt.Errorf("%s: %w", cmd.CommandName(), err)
	}
	return res, nil
}

// BleEnable enables the BLE stack of the controller
func (d *Driver) BleEnable() error {
	_, err := d.call(BleEnable{})
	return err
}

// UserMemReply declines a user memory request on connHandle
func (d *Driver) UserMemReply(connHandle types.ConnHandle) error {
	_, err := d.call(UserMemReply{ConnHandle: connHandle})
	return err
}

// GapAddrGet returns the device address
func (d *Driver) GapAddrGet() (types.Address, error) {
	res, err := d.call(GapAddrGet{})
	if err != nil {
		return types.Address{}, err
	}
	addr, ok := res.(types.Address)
	if !ok {
		return types.Address{}, fmt.Errorf("ble_gap_addr_get: unexpected result %T", res)
	}
	return addr, nil
}

// GapAddrSet sets the device address
func (d *Driver) GapAddrSet(addr types.Address) error {
	_, err := d.call(GapAddrSet{Address: addr})
	return err
}

// GapAdvDataSet sets the advertising and scan response payloads
func (d *Driver) GapAdvDataSet(advData, scanResponse []byte) error {
	_, err := d.call(GapAdvDataSet{AdvData: advData, ScanResponse: scanResponse})
	return err
}

// GapAdvStart starts advertising
func (d *Driver) GapAdvStart(params types.AdvParams) error {
	_, err := d.call(GapAdvStart{Params: params})
	return err
}

// GapAdvStop stops advertising
func (d *Driver) GapAdvStop() error {
	_, err := d.call(GapAdvStop{})
	return err
}

// GapDisconnect terminates the connection as a remote user termination
func (d *Driver) GapDisconnect(connHandle types.ConnHandle) error {
	_, err := d.call(GapDisconnect{ConnHandle: connHandle, Reason: types.HciRemoteUserTerminatedConnection})
	return err
}

// GapPhyUpdate requests new PHYs for a connection
func (d *Driver) GapPhyUpdate(connHandle types.ConnHandle, tx, rx types.Phy) error {
	_, err := d.call(GapPhyUpdateCmd{ConnHandle: connHandle, Phys: types.Phys{Tx: tx, Rx: rx}})
	return err
}

// GapDataLengthUpdate requests new data length limits. Nil params lets the
// controller choose.
func (d *Driver) GapDataLengthUpdate(connHandle types.ConnHandle, params *types.DataLengthParams) error {
	_, err := d.call(GapDataLengthUpdateCmd{ConnHandle: connHandle, Params: params})
	return err
}

// UnsubscribeFromEvent removes a subscription from the publisher of kind
func (d *Driver) UnsubscribeFromEvent(kind EventKind, id uuid.UUID) {
	d.Events.Unsubscribe(kind, id)
}
