package device

import "github.com/cuemby/blatann/pkg/types"

// AdvertisingTimeoutEvent is published when advertising ends without a
// connection
type AdvertisingTimeoutEvent struct{}

// ConnectionEvent is published when a peer connects
type ConnectionEvent struct{}

// DisconnectionEvent is published when a peer disconnects
type DisconnectionEvent struct {
	Reason types.HciStatus
}

// PhyUpdateEvent is published when the PHYs of a connection change
type PhyUpdateEvent struct {
	TxPhy types.Phy
	RxPhy types.Phy
}

// DataLengthUpdateEvent is published when new data length limits are in
// effect
type DataLengthUpdateEvent struct {
	TxBytes  uint16
	RxBytes  uint16
	TxTimeUs uint16
	RxTimeUs uint16
}
