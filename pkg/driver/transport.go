package driver

import "github.com/cuemby/blatann/pkg/types"

// EventSink receives decoded events from a transport. It may block while
// the driver's event queue is full.
type EventSink func(Event)

// Transport carries commands to a controller and events back from it.
//
// Call is serialized by the driver. Implementations must not deliver
// events synchronously from inside Call, since the dispatch goroutine may
// itself be waiting on a command.
type Transport interface {
	Open(sink EventSink) error
	Close() error
	Call(cmd Command) (any, error)
}

// Command is a request sent to the controller
type Command interface {
	CommandName() string
}

// BleEnable enables the BLE stack
type BleEnable struct{}

// UserMemReply answers a MemRequest without providing a memory block
type UserMemReply struct {
	ConnHandle types.ConnHandle
}

// GapAddrGet reads the device address. The result is a types.Address.
type GapAddrGet struct{}

// GapAddrSet sets the device address
type GapAddrSet struct {
	Address types.Address
}

// GapAdvDataSet sets advertising and scan response payloads
type GapAdvDataSet struct {
	AdvData      []byte
	ScanResponse []byte
}

// GapAdvStart starts advertising
type GapAdvStart struct {
	Params types.AdvParams
}

// GapAdvStop stops advertising
type GapAdvStop struct{}

// GapDisconnect terminates a connection
type GapDisconnect struct {
	ConnHandle types.ConnHandle
	Reason     types.HciStatus
}

// GapPhyUpdateCmd starts a PHY update procedure or answers a peer request
type GapPhyUpdateCmd struct {
	ConnHandle types.ConnHandle
	Phys       types.Phys
}

// GapDataLengthUpdateCmd starts a data length update procedure. Nil Params
// lets the controller pick.
type GapDataLengthUpdateCmd struct {
	ConnHandle types.ConnHandle
	Params     *types.DataLengthParams
}

func (BleEnable) CommandName() string              { return "ble_enable" }
func (UserMemReply) CommandName() string           { return "ble_user_mem_reply" }
func (GapAddrGet) CommandName() string             { return "ble_gap_addr_get" }
func (GapAddrSet) CommandName() string             { return "ble_gap_addr_set" }
func (GapAdvDataSet) CommandName() string          { return "ble_gap_adv_data_set" }
func (GapAdvStart) CommandName() string            { return "ble_gap_adv_start" }
func (GapAdvStop) CommandName() string             { return "ble_gap_adv_stop" }
func (GapDisconnect) CommandName() string          { return "ble_gap_disconnect" }
func (GapPhyUpdateCmd) CommandName() string        { return "ble_gap_phy_update" }
func (GapDataLengthUpdateCmd) CommandName() string { return "ble_gap_data_length_update" }
