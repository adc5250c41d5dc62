package driver

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/blatann/pkg/types"
)

// EventKind identifies a controller event. Values match the controller's
// event ids so that journals stay readable across versions.
type EventKind uint16

const (
	KindMemRequest              EventKind = 0x01
	KindMemRelease              EventKind = 0x02
	KindConnected               EventKind = 0x10
	KindDisconnected            EventKind = 0x11
	KindTimeout                 EventKind = 0x1B
	KindPhyUpdateRequest        EventKind = 0x21
	KindPhyUpdate               EventKind = 0x22
	KindDataLengthUpdateRequest EventKind = 0x23
	KindDataLengthUpdate        EventKind = 0x24
)

var kindNames = map[EventKind]string{
	KindMemRequest:              "common.mem_request",
	KindMemRelease:              "common.mem_release",
	KindConnected:               "gap.connected",
	KindDisconnected:            "gap.disconnected",
	KindTimeout:                 "gap.timeout",
	KindPhyUpdateRequest:        "gap.phy_update_request",
	KindPhyUpdate:               "gap.phy_update",
	KindDataLengthUpdateRequest: "gap.data_length_update_request",
	KindDataLengthUpdate:        "gap.data_length_update",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", uint16(k))
}

// MemRequest asks the application for a user memory block
type MemRequest struct {
	ConnHandle types.ConnHandle `json:"conn_handle"`
	Type       types.MemType    `json:"type"`
}

// MemRelease hands a user memory block back to the application
type MemRelease struct {
	ConnHandle types.ConnHandle `json:"conn_handle"`
	Type       types.MemType    `json:"type"`
}

// GapConnected reports a new connection
type GapConnected struct {
	ConnHandle  types.ConnHandle `json:"conn_handle"`
	PeerAddress types.Address    `json:"peer_address"`
	Role        types.Role       `json:"role"`
	ConnParams  types.ConnParams `json:"conn_params"`
}

// GapDisconnected reports the end of a connection
type GapDisconnected struct {
	ConnHandle types.ConnHandle `json:"conn_handle"`
	Reason     types.HciStatus  `json:"reason"`
}

// GapTimeout reports that a GAP procedure timed out
type GapTimeout struct {
	ConnHandle types.ConnHandle    `json:"conn_handle"`
	Source     types.TimeoutSource `json:"source"`
}

// GapPhyUpdateRequest is the peer asking for a PHY change
type GapPhyUpdateRequest struct {
	ConnHandle    types.ConnHandle `json:"conn_handle"`
	PeerPreferred types.Phys       `json:"peer_preferred"`
}

// GapPhyUpdate reports the outcome of a PHY update procedure
type GapPhyUpdate struct {
	ConnHandle types.ConnHandle `json:"conn_handle"`
	Status     types.HciStatus  `json:"status"`
	TxPhy      types.Phy        `json:"tx_phy"`
	RxPhy      types.Phy        `json:"rx_phy"`
}

// GapDataLengthUpdateRequest is the peer asking for new data length limits
type GapDataLengthUpdateRequest struct {
	ConnHandle types.ConnHandle       `json:"conn_handle"`
	PeerParams types.DataLengthParams `json:"peer_params"`
}

// GapDataLengthUpdate reports the data length limits now in effect
type GapDataLengthUpdate struct {
	ConnHandle      types.ConnHandle       `json:"conn_handle"`
	EffectiveParams types.DataLengthParams `json:"effective_params"`
}

// Event is one decoded controller event. Payload holds the struct that
// matches Kind, e.g. GapConnected for KindConnected.
type Event struct {
	Kind    EventKind
	Payload any
}

type wireEvent struct {
	Kind    EventKind       `json:"kind"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

var payloadDecoders = map[EventKind]func([]byte) (any, error){
	KindMemRequest:              decodeAs[MemRequest],
	KindMemRelease:              decodeAs[MemRelease],
	KindConnected:               decodeAs[GapConnected],
	KindDisconnected:            decodeAs[GapDisconnected],
	KindTimeout:                 decodeAs[GapTimeout],
	KindPhyUpdateRequest:        decodeAs[GapPhyUpdateRequest],
	KindPhyUpdate:               decodeAs[GapPhyUpdate],
	KindDataLengthUpdateRequest: decodeAs[GapDataLengthUpdateRequest],
	KindDataLengthUpdate:        decodeAs[GapDataLengthUpdate],
}

func decodeAs[T any](data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalJSON encodes the event with its kind so it can be decoded back
// into the matching payload type.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(wireEvent{Kind: e.Kind, Name: e.Kind.String(), Payload: payload})
}

// UnmarshalJSON decodes an event written by MarshalJSON
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.Kind = w.Kind
	decode, ok := payloadDecoders[w.Kind]
	if !ok {
		// Kinds this build does not know keep their raw payload; the
		// router drops them like any other unknown event.
		e.Payload = w.Payload
		return nil
	}
	payload, err := decode(w.Payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", w.Kind, err)
	}

	e.Payload = payload
	return nil
}
