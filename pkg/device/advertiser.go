package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/types"
)

// Advertiser controls advertising of the local device as a peripheral.
type Advertiser struct {
	driver *driver.Driver
	client *Peer

	mu          sync.Mutex
	params      types.AdvParams
	autoRestart bool
	advertising bool

	onTimeout          *events.Func[*driver.Driver, driver.GapTimeout]
	onConnected        *events.Func[*driver.Driver, driver.GapConnected]
	onClientDisconnect *events.Func[*Peer, DisconnectionEvent]

	// OnTimeout fires when advertising stops without a connection
	OnTimeout *events.Publisher[*Advertiser, AdvertisingTimeoutEvent]
}

func newAdvertiser(d *driver.Driver, client *Peer) *Advertiser {
	a := &Advertiser{
		driver:    d,
		client:    client,
		params:    types.DefaultAdvParams(),
		OnTimeout: events.NewPublisher[*Advertiser, AdvertisingTimeoutEvent](d.Port + ".advertiser.timeout"),
	}
	a.onTimeout = events.NewFunc(a.handleTimeout)
	a.onConnected = events.NewFunc(a.handleConnected)
	a.onClientDisconnect = events.NewFunc(a.handleClientDisconnect)

	events.Subscribe(d.Events.Timeout, a.onTimeout)
	events.Subscribe(d.Events.Connected, a.onConnected)
	events.Subscribe(client.OnDisconnect, a.onClientDisconnect)
	return a
}

// SetParams sets the parameters used by the next Start. With autoRestart,
// advertising starts again whenever the client disconnects.
func (a *Advertiser) SetParams(params types.AdvParams, autoRestart bool) error {
	if err := params.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params = params
	a.autoRestart = autoRestart
	return nil
}

// Params returns the current advertising parameters
func (a *Advertiser) Params() types.AdvParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// SetData sets the advertising and scan response payloads. Either may be nil.
func (a *Advertiser) SetData(advData, scanResponse *AdvData) error {
	var adv, scan []byte
	if advData != nil {
		if err := advData.Validate(); err != nil {
			return fmt.Errorf("advertising data: %w", err)
		}
		adv = advData.Serialize()
	}
	if scanResponse != nil {
		if err := scanResponse.Validate(); err != nil {
			return fmt.Errorf("scan response: %w", err)
		}
		scan = scanResponse.Serialize()
	}
	return a.driver.GapAdvDataSet(adv, scan)
}

// Start begins advertising. The returned waitable resolves with the client
// peer once a central connects, or with nil if advertising times out.
func (a *Advertiser) Start() (*ConnectionWaitable, error) {
	params := a.Params()

	// Armed before the command so an immediate connection is seen.
	w := newConnectionWaitable(a.driver, a.client, types.RolePeripheral)
	connecting := params.Type.Connectable() && a.client.setConnecting()
	if err := a.driver.GapAdvStart(params); err != nil {
		if connecting {
			a.client.cancelConnecting()
		}
		w.Cancel()
		return nil, err
	}

	a.mu.Lock()
	a.advertising = true
	a.mu.Unlock()

	l := log.WithPort(a.driver.Port)
	l.Info().
		Dur("interval", params.Interval).
		Dur("timeout", params.Timeout).
		Str("type", params.Type.String()).
		Msg("Advertising started")
	return w, nil
}

// Stop ends advertising. Stopping an advertiser that is not running is not
// an error.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	a.advertising = false
	a.mu.Unlock()
	a.client.cancelConnecting()

	if err := a.driver.GapAdvStop(); err != nil && !errors.Is(err, driver.ErrInvalidState) {
		return err
	}
	return nil
}

// IsAdvertising reports whether advertising is running
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertising
}

func (a *Advertiser) handleTimeout(_ *driver.Driver, ev driver.GapTimeout) events.Action {
	if ev.Source != types.TimeoutSourceAdvertising {
		return events.ActionNone
	}
	a.mu.Lock()
	a.advertising = false
	a.mu.Unlock()
	a.client.cancelConnecting()

	l := log.WithPort(a.driver.Port)
	l.Info().Msg("Advertising timed out")
	a.OnTimeout.Dispatch(a, AdvertisingTimeoutEvent{})
	return events.ActionNone
}

func (a *Advertiser) handleConnected(_ *driver.Driver, ev driver.GapConnected) events.Action {
	if ev.Role == types.RolePeripheral {
		a.mu.Lock()
		a.advertising = false
		a.mu.Unlock()
	}
	return events.ActionNone
}

func (a *Advertiser) handleClientDisconnect(_ *Peer, _ DisconnectionEvent) events.Action {
	a.mu.Lock()
	restart := a.autoRestart
	params := a.params
	a.mu.Unlock()
	if !restart {
		return events.ActionNone
	}

	l := log.WithPort(a.driver.Port)
	connecting := params.Type.Connectable() && a.client.setConnecting()
	if err := a.driver.GapAdvStart(params); err != nil {
		if connecting {
			a.client.cancelConnecting()
		}
		l.Warn().Err(err).Msg("Failed to restart advertising")
		return events.ActionNone
	}
	a.mu.Lock()
	a.advertising = true
	a.mu.Unlock()
	l.Info().Msg("Advertising restarted after disconnect")
	return events.ActionNone
}
