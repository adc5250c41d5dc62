package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/types"
)

// MaxAdvDataLen is the largest legacy advertising payload
const MaxAdvDataLen = 31

var errAlreadyOpen = errors.New("simulated port already open")

// Options shape how the simulated controller and its central behave
type Options struct {
	// ConnectAfter is how long after advertising starts a central connects.
	// Zero means no central ever connects on its own.
	ConnectAfter time.Duration

	// AdvTimeoutScale multiplies the advertising timeout so tests can use
	// realistic parameters without waiting for them. Zero means 1.
	AdvTimeoutScale float64

	// PeerAddress is the address of the simulated central
	PeerAddress types.Address

	// ConnParams are reported with every connection
	ConnParams types.ConnParams

	// DeviceAddress is the initial local address
	DeviceAddress types.Address
}

// DefaultOptions returns a central that never connects on its own
func DefaultOptions() Options {
	return Options{
		AdvTimeoutScale: 1,
		PeerAddress: types.Address{
			Type:  types.AddressTypeRandomStatic,
			Bytes: [types.AddressLen]byte{0xC0, 0x00, 0x00, 0x00, 0x00, 0x01},
		},
		ConnParams: types.DefaultConnParams(),
		DeviceAddress: types.Address{
			Type:  types.AddressTypeRandomStatic,
			Bytes: [types.AddressLen]byte{0xD0, 0x00, 0x00, 0x00, 0x00, 0x02},
		},
	}
}

// Transport is an in-process controller implementing driver.Transport.
//
// Events are delivered through an unbounded queue drained by a forwarding
// goroutine, so Call never blocks on the driver's event queue.
type Transport struct {
	opts Options

	mu          sync.Mutex
	open        bool
	enabled     bool
	advertising bool
	advTimer    *time.Timer
	advGen      int
	address     types.Address
	advData     []byte
	scanResp    []byte
	conns       map[types.ConnHandle]bool
	nextHandle  types.ConnHandle
	commands    []string

	qmu     sync.Mutex
	pending []driver.Event
	signal  chan struct{}
	stopCh  chan struct{}
	sink    driver.EventSink
}

var _ driver.Transport = (*Transport)(nil)

// New creates a simulated controller
func New(opts Options) *Transport {
	if opts.AdvTimeoutScale <= 0 {
		opts.AdvTimeoutScale = 1
	}
	return &Transport{
		opts:    opts,
		address: opts.DeviceAddress,
		conns:   make(map[types.ConnHandle]bool),
	}
}

// Open implements driver.Transport
func (t *Transport) Open(sink driver.EventSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return errAlreadyOpen
	}
	t.open = true

	t.qmu.Lock()
	t.sink = sink
	t.pending = nil
	t.signal = make(chan struct{}, 1)
	t.stopCh = make(chan struct{})
	t.qmu.Unlock()

	go t.forward(sink, t.signal, t.stopCh)
	return nil
}

// Close implements driver.Transport. It resets the controller and does not
// wait for the forwarding goroutine, which may be blocked on the driver.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil
	}
	t.open = false
	t.enabled = false
	t.stopAdvertisingLocked()
	t.conns = make(map[types.ConnHandle]bool)

	t.qmu.Lock()
	close(t.stopCh)
	t.pending = nil
	t.qmu.Unlock()
	return nil
}

func (t *Transport) forward(sink driver.EventSink, signal <-chan struct{}, stopCh <-chan struct{}) {
	for {
		select {
		case <-signal:
		case <-stopCh:
			return
		}

		for {
			t.qmu.Lock()
			if len(t.pending) == 0 {
				t.qmu.Unlock()
				break
			}
			ev := t.pending[0]
			t.pending = t.pending[1:]
			t.qmu.Unlock()

			select {
			case <-stopCh:
				return
			default:
			}
			sink(ev)
		}
	}
}

func (t *Transport) emit(ev driver.Event) {
	t.qmu.Lock()
	defer t.qmu.Unlock()

	if t.sink == nil {
		return
	}
	select {
	case <-t.stopCh:
		return
	default:
	}

	t.pending = append(t.pending, ev)
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Inject delivers ev as if the controller had produced it
func (t *Transport) Inject(ev driver.Event) {
	t.emit(ev)
}

// Commands returns the names of every command received, in order
func (t *Transport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// AdvData returns the last advertising payload set
func (t *Transport) AdvData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.advData...)
}

// Advertising reports whether the controller is advertising
func (t *Transport) Advertising() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertising
}

// Connect makes the central connect now. It returns false if the
// controller is not advertising.
func (t *Transport) Connect() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectLocked()
}

// PeerDisconnect makes the central terminate the connection
func (t *Transport) PeerDisconnect(h types.ConnHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.conns[h] {
		return false
	}
	delete(t.conns, h)
	t.emit(driver.Event{
		Kind:    driver.KindDisconnected,
		Payload: driver.GapDisconnected{ConnHandle: h, Reason: types.HciRemoteUserTerminatedConnection},
	})
	return true
}

// PeerRequestPhy makes the central request a PHY update
func (t *Transport) PeerRequestPhy(h types.ConnHandle, phys types.Phys) {
	t.emit(driver.Event{
		Kind:    driver.KindPhyUpdateRequest,
		Payload: driver.GapPhyUpdateRequest{ConnHandle: h, PeerPreferred: phys},
	})
}

// PeerRequestDataLength makes the central request new data length limits
func (t *Transport) PeerRequestDataLength(h types.ConnHandle, params types.DataLengthParams) {
	t.emit(driver.Event{
		Kind:    driver.KindDataLengthUpdateRequest,
		Payload: driver.GapDataLengthUpdateRequest{ConnHandle: h, PeerParams: params},
	})
}

// PeerRequestMemory makes the stack ask for a user memory block
func (t *Transport) PeerRequestMemory(h types.ConnHandle) {
	t.emit(driver.Event{
		Kind:    driver.KindMemRequest,
		Payload: driver.MemRequest{ConnHandle: h, Type: types.MemTypeGattsQueuedWrites},
	})
}

// Call implements driver.Transport
func (t *Transport) Call(cmd driver.Command) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commands = append(t.commands, cmd.CommandName())

	if !t.open {
		return nil, driver.ErrRPCNoResponse
	}
	if _, ok := cmd.(driver.BleEnable); !ok && !t.enabled {
		return nil, driver.ErrBleNotEnabled
	}

	switch c := cmd.(type) {
	case driver.BleEnable:
		if t.enabled {
			return nil, driver.ErrInvalidState
		}
		t.enabled = true
		return nil, nil

	case driver.GapAddrGet:
		return t.address, nil

	case driver.GapAddrSet:
		if t.advertising {
			return nil, driver.ErrInvalidState
		}
		t.address = c.Address
		return nil, nil

	case driver.GapAdvDataSet:
		if len(c.AdvData) > MaxAdvDataLen || len(c.ScanResponse) > MaxAdvDataLen {
			return nil, driver.ErrInvalidLength
		}
		t.advData = append([]byte(nil), c.AdvData...)
		t.scanResp = append([]byte(nil), c.ScanResponse...)
		return nil, nil

	case driver.GapAdvStart:
		return nil, t.advStartLocked(c.Params)

	case driver.GapAdvStop:
		if !t.advertising {
			return nil, driver.ErrInvalidState
		}
		t.stopAdvertisingLocked()
		return nil, nil

	case driver.GapDisconnect:
		if !t.conns[c.ConnHandle] {
			return nil, driver.ErrBleInvalidConnHandle
		}
		delete(t.conns, c.ConnHandle)
		t.emit(driver.Event{
			Kind:    driver.KindDisconnected,
			Payload: driver.GapDisconnected{ConnHandle: c.ConnHandle, Reason: types.HciLocalHostTerminatedConnection},
		})
		return nil, nil

	case driver.GapPhyUpdateCmd:
		if !t.conns[c.ConnHandle] {
			return nil, driver.ErrBleInvalidConnHandle
		}
		t.emit(driver.Event{
			Kind: driver.KindPhyUpdate,
			Payload: driver.GapPhyUpdate{
				ConnHandle: c.ConnHandle,
				Status:     types.HciSuccess,
				TxPhy:      resolvePhy(c.Phys.Tx),
				RxPhy:      resolvePhy(c.Phys.Rx),
			},
		})
		return nil, nil

	case driver.GapDataLengthUpdateCmd:
		if !t.conns[c.ConnHandle] {
			return nil, driver.ErrBleInvalidConnHandle
		}
		params := types.DefaultDataLengthParams()
		if c.Params != nil {
			params = *c.Params
		}
		t.emit(driver.Event{
			Kind:    driver.KindDataLengthUpdate,
			Payload: driver.GapDataLengthUpdate{ConnHandle: c.ConnHandle, EffectiveParams: params},
		})
		return nil, nil

	case driver.UserMemReply:
		if !t.conns[c.ConnHandle] {
			return nil, driver.ErrBleInvalidConnHandle
		}
		return nil, nil

	default:
		return nil, driver.ErrNotSupported
	}
}

func (t *Transport) advStartLocked(params types.AdvParams) error {
	if t.advertising {
		return driver.ErrInvalidState
	}
	if params.Type.Connectable() && len(t.conns) > 0 {
		return driver.ErrConnCount
	}
	t.advertising = true
	t.advGen++
	gen := t.advGen

	timeout := time.Duration(float64(params.Timeout) * t.opts.AdvTimeoutScale)
	connectable := params.Type.Connectable()

	switch {
	case connectable && t.opts.ConnectAfter > 0 && (params.Timeout == 0 || t.opts.ConnectAfter < timeout):
		t.advTimer = time.AfterFunc(t.opts.ConnectAfter, func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.advGen == gen {
				t.connectLocked()
			}
		})
	case params.Timeout > 0:
		t.advTimer = time.AfterFunc(timeout, func() { t.advTimedOut(gen) })
	}

	l := log.WithComponent("sim")
	l.Debug().Dur("interval", params.Interval).Dur("timeout", timeout).Msg("Advertising started")
	return nil
}

func (t *Transport) advTimedOut(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.advertising || t.advGen != gen {
		return
	}
	t.advertising = false
	t.advTimer = nil
	t.emit(driver.Event{
		Kind:    driver.KindTimeout,
		Payload: driver.GapTimeout{ConnHandle: types.ConnHandleInvalid, Source: types.TimeoutSourceAdvertising},
	})
}

func (t *Transport) connectLocked() bool {
	if !t.advertising {
		return false
	}
	t.stopAdvertisingLocked()

	h := t.nextHandle
	t.nextHandle++
	t.conns[h] = true
	t.emit(driver.Event{
		Kind: driver.KindConnected,
		Payload: driver.GapConnected{
			ConnHandle:  h,
			PeerAddress: t.opts.PeerAddress,
			Role:        types.RolePeripheral,
			ConnParams:  t.opts.ConnParams,
		},
	})
	return true
}

func (t *Transport) stopAdvertisingLocked() {
	t.advertising = false
	if t.advTimer != nil {
		t.advTimer.Stop()
		t.advTimer = nil
	}
}

func resolvePhy(p types.Phy) types.Phy {
	switch {
	case p == types.PhyAuto, p&types.Phy2Mbps != 0:
		return types.Phy2Mbps
	case p&types.Phy1Mbps != 0:
		return types.Phy1Mbps
	default:
		return types.PhyCoded
	}
}
