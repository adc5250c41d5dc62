package driver

import (
	"fmt"
	"slices"

	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/google/uuid"
)

// route binds one event kind to its typed publisher
type route struct {
	dispatch    func(d *Driver, payload any) bool
	unsubscribe func(id uuid.UUID)
	close       func()
}

// Events routes decoded controller events to one typed publisher per kind.
//
// Subscribers register on the typed fields, e.g.
//
//	events.Subscribe(d.Events.Connected, handler)
//
// Raw sees every event, typed or not, before the typed publisher does.
type Events struct {
	port   string
	routes map[EventKind]route

	Raw *events.Publisher[*Driver, Event]

	MemRequest              *events.Publisher[*Driver, MemRequest]
	MemRelease              *events.Publisher[*Driver, MemRelease]
	Connected               *events.Publisher[*Driver, GapConnected]
	Disconnected            *events.Publisher[*Driver, GapDisconnected]
	Timeout                 *events.Publisher[*Driver, GapTimeout]
	PhyUpdateRequest        *events.Publisher[*Driver, GapPhyUpdateRequest]
	PhyUpdate               *events.Publisher[*Driver, GapPhyUpdate]
	DataLengthUpdateRequest *events.Publisher[*Driver, GapDataLengthUpdateRequest]
	DataLengthUpdate        *events.Publisher[*Driver, GapDataLengthUpdate]
}

// NewEvents creates the router of the driver bound to port
func NewEvents(port string) *Events {
	e := &Events{
		port:   port,
		routes: make(map[EventKind]route),
		Raw:    events.NewPublisher[*Driver, Event]("raw"),
	}

	e.MemRequest = addRoute[MemRequest](e, KindMemRequest)
	e.MemRelease = addRoute[MemRelease](e, KindMemRelease)
	e.Connected = addRoute[GapConnected](e, KindConnected)
	e.Disconnected = addRoute[GapDisconnected](e, KindDisconnected)
	e.Timeout = addRoute[GapTimeout](e, KindTimeout)
	e.PhyUpdateRequest = addRoute[GapPhyUpdateRequest](e, KindPhyUpdateRequest)
	e.PhyUpdate = addRoute[GapPhyUpdate](e, KindPhyUpdate)
	e.DataLengthUpdateRequest = addRoute[GapDataLengthUpdateRequest](e, KindDataLengthUpdateRequest)
	e.DataLengthUpdate = addRoute[GapDataLengthUpdate](e, KindDataLengthUpdate)

	return e
}

func addRoute[E any](e *Events, kind EventKind) *events.Publisher[*Driver, E] {
	p := events.NewPublisher[*Driver, E](kind.String())
	e.routes[kind] = route{
		dispatch: func(d *Driver, payload any) bool {
			switch v := payload.(type) {
			case E:
				p.Dispatch(d, v)
			case *E:
				if v == nil {
					return false
				}
				p.Dispatch(d, *v)
			default:
				return false
			}
			return true
		},
		unsubscribe: p.Unsubscribe,
		close:       p.Close,
	}
	return p
}

// Dispatch delivers ev to the publisher of its kind. It never fails:
// unknown kinds and payloads of the wrong type are logged and dropped.
func (e *Events) Dispatch(d *Driver, ev Event) {
	metrics.DriverEventsTotal.WithLabelValues(e.port, ev.Kind.String()).Inc()
	e.Raw.Dispatch(d, ev)

	r, ok := e.routes[ev.Kind]
	if !ok {
		l := log.WithPort(e.port)
		l.Warn().Uint16("kind", uint16(ev.Kind)).Msg("Dropping event of unknown kind")
		metrics.DriverEventsDropped.WithLabelValues(e.port, "unknown_kind").Inc()
		return
	}

	if !r.dispatch(d, ev.Payload) {
		l := log.WithPort(e.port)
		l.Warn().
			Str("kind", ev.Kind.String()).
			Str("payload_type", payloadType(ev.Payload)).
			Msg("Dropping event with mismatched payload")
		metrics.DriverEventsDropped.WithLabelValues(e.port, "payload_mismatch").Inc()
	}
}

// Unsubscribe removes subscription id from the publisher of kind
func (e *Events) Unsubscribe(kind EventKind, id uuid.UUID) {
	r, ok := e.routes[kind]
	if !ok {
		l := log.WithPort(e.port)
		l.Warn().Uint16("kind", uint16(kind)).Msg("Unsubscribe from unknown event kind")
		return
	}
	r.unsubscribe(id)
}

// Close closes every publisher, failing pending waitables with
// events.ErrChannelClosed.
func (e *Events) Close() {
	for _, r := range e.routes {
		r.close()
	}
	e.Raw.Close()
}

// Kinds returns every routed event kind in ascending order
func (e *Events) Kinds() []EventKind {
	kinds := make([]EventKind, 0, len(e.routes))
	for k := range e.routes {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func payloadType(v any) string {
	return fmt.Sprintf("%T", v)
}
