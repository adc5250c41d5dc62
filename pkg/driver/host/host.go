package host

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/types"
	"tinygo.org/x/bluetooth"
)

// Adapter is the part of *bluetooth.Adapter the transport drives
type Adapter interface {
	Enable() error
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

// Advertisement is the part of *bluetooth.Advertisement the transport drives
type Advertisement interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// Conn is a connected central
type Conn interface {
	Disconnect() error
}

// Transport implements driver.Transport on top of the host Bluetooth stack.
//
// The host stack owns the connection parameters, PHY and data length, so
// those procedures are not supported. Advertising timeouts are emulated
// with a timer.
type Transport struct {
	adapter Adapter
	adv     Advertisement

	mu          sync.Mutex
	sink        driver.EventSink
	enabled     bool
	advertising bool
	advTimer    *time.Timer
	advGen      int
	options     bluetooth.AdvertisementOptions
	conns       map[types.ConnHandle]*conn
	nextHandle  types.ConnHandle
}

type conn struct {
	address string
	link    Conn
}

var _ driver.Transport = (*Transport)(nil)

// New creates a transport for the default host adapter
func New() *Transport {
	a := bluetooth.DefaultAdapter
	return NewWithAdapter(a, a.DefaultAdvertisement())
}

// NewWithAdapter creates a transport for a specific adapter
func NewWithAdapter(a Adapter, adv Advertisement) *Transport {
	return &Transport{
		adapter: a,
		adv:     adv,
		conns:   make(map[types.ConnHandle]*conn),
	}
}

// Open implements driver.Transport
func (t *Transport) Open(sink driver.EventSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	return nil
}

// Close implements driver.Transport
func (t *Transport) Close() error {
	t.mu.Lock()
	advertising := t.advertising
	t.stopTimerLocked()
	t.advertising = false
	t.sink = nil
	t.mu.Unlock()

	if advertising {
		return t.adv.Stop()
	}
	return nil
}

// Call implements driver.Transport
func (t *Transport) Call(cmd driver.Command) (any, error) {
	if _, ok := cmd.(driver.BleEnable); ok {
		return nil, t.enable()
	}

	t.mu.Lock()
	enabled := t.enabled
	t.mu.Unlock()
	if !enabled {
		return nil, driver.ErrBleNotEnabled
	}

	switch c := cmd.(type) {
	case driver.GapAdvDataSet:
		opts, err := parseAdvData(c.AdvData)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.options.LocalName = opts.LocalName
		t.options.ServiceUUIDs = opts.ServiceUUIDs
		t.mu.Unlock()
		return nil, nil

	case driver.GapAdvStart:
		return nil, t.advStart(c.Params)

	case driver.GapAdvStop:
		t.mu.Lock()
		if !t.advertising {
			t.mu.Unlock()
			return nil, driver.ErrInvalidState
		}
		t.advertising = false
		t.stopTimerLocked()
		t.mu.Unlock()
		return nil, t.adv.Stop()

	case driver.GapDisconnect:
		t.mu.Lock()
		cn, ok := t.conns[c.ConnHandle]
		delete(t.conns, c.ConnHandle)
		t.mu.Unlock()
		if !ok {
			return nil, driver.ErrBleInvalidConnHandle
		}
		if err := cn.link.Disconnect(); err != nil {
			return nil, err
		}
		go t.emit(driver.Event{
			Kind:    driver.KindDisconnected,
			Payload: driver.GapDisconnected{ConnHandle: c.ConnHandle, Reason: types.HciLocalHostTerminatedConnection},
		})
		return nil, nil

	case driver.UserMemReply:
		return nil, nil

	default:
		return nil, driver.ErrNotSupported
	}
}

func (t *Transport) enable() error {
	t.mu.Lock()
	if t.enabled {
		t.mu.Unlock()
		return driver.ErrInvalidState
	}
	t.mu.Unlock()

	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		d := device
		t.handleConnect(d.Address.String(), &d, connected)
	})

	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) advStart(params types.AdvParams) error {
	t.mu.Lock()
	if t.advertising {
		t.mu.Unlock()
		return driver.ErrInvalidState
	}
	opts := t.options
	opts.Interval = bluetooth.NewDuration(params.Interval)
	t.mu.Unlock()

	if err := t.adv.Configure(opts); err != nil {
		return err
	}
	if err := t.adv.Start(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.advertising = true
	t.advGen++
	if params.Timeout > 0 {
		gen := t.advGen
		t.advTimer = time.AfterFunc(params.Timeout, func() { t.advTimedOut(gen) })
	}
	return nil
}

func (t *Transport) advTimedOut(gen int) {
	t.mu.Lock()
	if !t.advertising || t.advGen != gen {
		t.mu.Unlock()
		return
	}
	t.advertising = false
	t.advTimer = nil
	t.mu.Unlock()

	if err := t.adv.Stop(); err != nil {
		l := log.WithComponent("host")
		l.Warn().Err(err).Msg("Failed to stop advertising after timeout")
	}
	t.emit(driver.Event{
		Kind:    driver.KindTimeout,
		Payload: driver.GapTimeout{ConnHandle: types.ConnHandleInvalid, Source: types.TimeoutSourceAdvertising},
	})
}

// handleConnect turns host connection callbacks into GAP events
func (t *Transport) handleConnect(address string, link Conn, connected bool) {
	addr, err := types.ParseAddress(address, types.AddressTypePublic)
	if err != nil {
		l := log.WithComponent("host")
		l.Debug().Str("address", address).Msg("Peer address is not a MAC address")
	}

	t.mu.Lock()
	if connected {
		t.advertising = false
		t.stopTimerLocked()
		h := t.nextHandle
		t.nextHandle++
		t.conns[h] = &conn{address: address, link: link}
		t.mu.Unlock()

		t.emit(driver.Event{
			Kind: driver.KindConnected,
			Payload: driver.GapConnected{
				ConnHandle:  h,
				PeerAddress: addr,
				Role:        types.RolePeripheral,
				ConnParams:  types.DefaultConnParams(),
			},
		})
		return
	}

	h, ok := t.handleForLocked(address)
	if ok {
		delete(t.conns, h)
	}
	t.mu.Unlock()

	// Disconnects we started were reported by GapDisconnect already.
	if ok {
		t.emit(driver.Event{
			Kind:    driver.KindDisconnected,
			Payload: driver.GapDisconnected{ConnHandle: h, Reason: types.HciRemoteUserTerminatedConnection},
		})
	}
}

func (t *Transport) handleForLocked(address string) (types.ConnHandle, bool) {
	for h, c := range t.conns {
		if c.address == address {
			return h, true
		}
	}
	return types.ConnHandleInvalid, false
}

func (t *Transport) stopTimerLocked() {
	if t.advTimer != nil {
		t.advTimer.Stop()
		t.advTimer = nil
	}
}

// emit hands ev to the driver without holding the transport lock, since the
// sink blocks while the driver queue is full.
func (t *Transport) emit(ev driver.Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// parseAdvData extracts what the host stack lets us advertise from an
// encoded payload: the local name and 16-bit service UUIDs.
func parseAdvData(data []byte) (bluetooth.AdvertisementOptions, error) {
	var opts bluetooth.AdvertisementOptions
	for i := 0; i < len(data); {
		n := int(data[i])
		if n == 0 {
			break
		}
		if i+1+n > len(data) {
			return opts, driver.ErrInvalidLength
		}
		typ, value := data[i+1], data[i+2:i+1+n]
		switch typ {
		case 0x08, 0x09:
			opts.LocalName = string(value)
		case 0x02, 0x03:
			for j := 0; j+1 < len(value); j += 2 {
				opts.ServiceUUIDs = append(opts.ServiceUUIDs, bluetooth.New16BitUUID(binary.LittleEndian.Uint16(value[j:])))
			}
		}
		i += 1 + n
	}
	return opts, nil
}
