package types

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// ConnHandle identifies a connection on the controller
type ConnHandle uint16

// ConnHandleInvalid is reported by events not bound to a connection
const ConnHandleInvalid ConnHandle = 0xFFFF

// Valid reports whether h refers to a connection
func (h ConnHandle) Valid() bool {
	return h != ConnHandleInvalid
}

// AddressType defines how a device address was generated
type AddressType uint8

const (
	AddressTypePublic               AddressType = 0x00
	AddressTypeRandomStatic         AddressType = 0x01
	AddressTypePrivateResolvable    AddressType = 0x02
	AddressTypePrivateNonResolvable AddressType = 0x03
)

func (t AddressType) String() string {
	switch t {
	case AddressTypePublic:
		return "public"
	case AddressTypeRandomStatic:
		return "static"
	case AddressTypePrivateResolvable:
		return "private-resolvable"
	case AddressTypePrivateNonResolvable:
		return "private-non-resolvable"
	default:
		return fmt.Sprintf("address-type(%d)", uint8(t))
	}
}

// AddressLen is the length of a device address in bytes
const AddressLen = 6

// Address is a device address, most significant byte first
type Address struct {
	Type  AddressType
	Bytes [AddressLen]byte
}

// ParseAddress parses "AA:BB:CC:DD:EE:FF" (case-insensitive)
func ParseAddress(s string, addrType AddressType) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != AddressLen {
		return Address{}, fmt.Errorf("invalid address %q: expected %d octets", s, AddressLen)
	}

	addr := Address{Type: addrType}
	for i, p := range parts {
		if len(p) != 2 {
			return Address{}, fmt.Errorf("invalid address %q: octet %q", s, p)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		addr.Bytes[i] = b[0]
	}
	return addr, nil
}

// String formats the address as upper-case hex octets joined by colons
func (a Address) String() string {
	parts := make([]string, AddressLen)
	for i, b := range a.Bytes {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Role is the link-layer role of the local device on a connection
type Role uint8

const (
	RoleInvalid    Role = 0
	RolePeripheral Role = 1
	RoleCentral    Role = 2
)

func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "peripheral"
	case RoleCentral:
		return "central"
	default:
		return "invalid"
	}
}

// AdvType defines the advertising PDU type
type AdvType uint8

const (
	AdvTypeConnectableUndirected    AdvType = 0x00
	AdvTypeConnectableDirected      AdvType = 0x01
	AdvTypeScannableUndirected      AdvType = 0x02
	AdvTypeNonConnectableUndirected AdvType = 0x03
	AdvTypeScanResponse             AdvType = 0xFF
)

// ParseAdvType maps a configuration name to an AdvType
func ParseAdvType(s string) (AdvType, error) {
	switch s {
	case "", "connectable_undirected":
		return AdvTypeConnectableUndirected, nil
	case "connectable_directed":
		return AdvTypeConnectableDirected, nil
	case "scannable_undirected":
		return AdvTypeScannableUndirected, nil
	case "non_connectable_undirected":
		return AdvTypeNonConnectableUndirected, nil
	default:
		return 0, fmt.Errorf("unknown advertising type %q", s)
	}
}

func (t AdvType) String() string {
	switch t {
	case AdvTypeConnectableUndirected:
		return "connectable_undirected"
	case AdvTypeConnectableDirected:
		return "connectable_directed"
	case AdvTypeScannableUndirected:
		return "scannable_undirected"
	case AdvTypeNonConnectableUndirected:
		return "non_connectable_undirected"
	case AdvTypeScanResponse:
		return "scan_response"
	default:
		return fmt.Sprintf("AdvType(0x%02X)", uint8(t))
	}
}

// Connectable reports whether a central may connect in response
func (t AdvType) Connectable() bool {
	return t == AdvTypeConnectableUndirected || t == AdvTypeConnectableDirected
}

// AdvParams configures advertising
type AdvParams struct {
	Interval time.Duration
	Timeout  time.Duration // 0 advertises until stopped
	Type     AdvType
}

// DefaultAdvParams returns 40ms connectable advertising for 180s
func DefaultAdvParams() AdvParams {
	return AdvParams{
		Interval: 40 * time.Millisecond,
		Timeout:  180 * time.Second,
		Type:     AdvTypeConnectableUndirected,
	}
}

// Validate checks the parameters against controller limits
func (p AdvParams) Validate() error {
	if p.Interval < 20*time.Millisecond || p.Interval > 10240*time.Millisecond {
		return fmt.Errorf("advertising interval %s out of range [20ms, 10.24s]", p.Interval)
	}
	if p.Timeout < 0 || p.Timeout > time.Duration(math.MaxUint16)*time.Second {
		return fmt.Errorf("advertising timeout %s out of range", p.Timeout)
	}
	return nil
}

// ConnParams describes the timing of a connection
type ConnParams struct {
	MinInterval       time.Duration
	MaxInterval       time.Duration
	SupervisorTimeout time.Duration
	SlaveLatency      uint16
}

// DefaultConnParams returns 15-30ms intervals with a 4s supervision timeout
func DefaultConnParams() ConnParams {
	return ConnParams{
		MinInterval:       15 * time.Millisecond,
		MaxInterval:       30 * time.Millisecond,
		SupervisorTimeout: 4 * time.Second,
	}
}

// Phy is a bit set of radio PHYs
type Phy uint8

const (
	PhyAuto  Phy = 0
	Phy1Mbps Phy = 1 << 0
	Phy2Mbps Phy = 1 << 1
	PhyCoded Phy = 1 << 2
)

func (p Phy) String() string {
	if p == PhyAuto {
		return "auto"
	}
	var names []string
	if p&Phy1Mbps != 0 {
		names = append(names, "1M")
	}
	if p&Phy2Mbps != 0 {
		names = append(names, "2M")
	}
	if p&PhyCoded != 0 {
		names = append(names, "coded")
	}
	if len(names) == 0 {
		return fmt.Sprintf("phy(%d)", uint8(p))
	}
	return strings.Join(names, "|")
}

// Phys is a transmit/receive PHY preference
type Phys struct {
	Tx Phy
	Rx Phy
}

// HciStatus is a Bluetooth HCI status code
type HciStatus uint8

const (
	HciSuccess                        HciStatus = 0x00
	HciUnknownBtleCommand             HciStatus = 0x01
	HciUnknownConnectionIdentifier    HciStatus = 0x02
	HciAuthenticationFailure          HciStatus = 0x05
	HciPinOrKeyMissing                HciStatus = 0x06
	HciMemoryCapacityExceeded         HciStatus = 0x07
	HciConnectionTimeout              HciStatus = 0x08
	HciCommandDisallowed              HciStatus = 0x0C
	HciInvalidBtleCommandParameters   HciStatus = 0x12
	HciRemoteUserTerminatedConnection HciStatus = 0x13
	HciRemoteDevTerminationLowRes     HciStatus = 0x14
	HciRemoteDevTerminationPowerOff   HciStatus = 0x15
	HciLocalHostTerminatedConnection  HciStatus = 0x16
	HciUnsupportedRemoteFeature       HciStatus = 0x1A
	HciInvalidLmpParameters           HciStatus = 0x1E
	HciUnspecifiedError               HciStatus = 0x1F
	HciLmpResponseTimeout             HciStatus = 0x22
	HciLmpErrorTransactionCollision   HciStatus = 0x23
	HciLmpPduNotAllowed               HciStatus = 0x24
	HciInstantPassed                  HciStatus = 0x28
	HciPairingWithUnitKeyUnsupported  HciStatus = 0x29
	HciDifferentTransactionCollision  HciStatus = 0x2A
	HciParameterOutOfMandatoryRange   HciStatus = 0x30
	HciControllerBusy                 HciStatus = 0x3A
	HciConnIntervalUnacceptable       HciStatus = 0x3B
	HciDirectedAdvertiserTimeout      HciStatus = 0x3C
	HciConnTerminatedMicFailure       HciStatus = 0x3D
	HciConnFailedToBeEstablished      HciStatus = 0x3E
	HciInvalid                        HciStatus = 0xFF
)

var hciStatusNames = map[HciStatus]string{
	HciSuccess:                        "success",
	HciUnknownBtleCommand:             "unknown_btle_command",
	HciUnknownConnectionIdentifier:    "unknown_connection_identifier",
	HciAuthenticationFailure:          "authentication_failure",
	HciPinOrKeyMissing:                "pin_or_key_missing",
	HciMemoryCapacityExceeded:         "memory_capacity_exceeded",
	HciConnectionTimeout:              "connection_timeout",
	HciCommandDisallowed:              "command_disallowed",
	HciInvalidBtleCommandParameters:   "invalid_btle_command_parameters",
	HciRemoteUserTerminatedConnection: "remote_user_terminated_connection",
	HciRemoteDevTerminationLowRes:     "remote_dev_termination_low_resources",
	HciRemoteDevTerminationPowerOff:   "remote_dev_termination_power_off",
	HciLocalHostTerminatedConnection:  "local_host_terminated_connection",
	HciUnsupportedRemoteFeature:       "unsupported_remote_feature",
	HciInvalidLmpParameters:           "invalid_lmp_parameters",
	HciUnspecifiedError:               "unspecified_error",
	HciLmpResponseTimeout:             "lmp_response_timeout",
	HciLmpErrorTransactionCollision:   "lmp_error_transaction_collision",
	HciLmpPduNotAllowed:               "lmp_pdu_not_allowed",
	HciInstantPassed:                  "instant_passed",
	HciPairingWithUnitKeyUnsupported:  "pairing_with_unit_key_unsupported",
	HciDifferentTransactionCollision:  "different_transaction_collision",
	HciParameterOutOfMandatoryRange:   "parameter_out_of_mandatory_range",
	HciControllerBusy:                 "controller_busy",
	HciConnIntervalUnacceptable:       "conn_interval_unacceptable",
	HciDirectedAdvertiserTimeout:      "directed_advertiser_timeout",
	HciConnTerminatedMicFailure:       "conn_terminated_due_to_mic_failure",
	HciConnFailedToBeEstablished:      "conn_failed_to_be_established",
	HciInvalid:                        "invalid",
}

func (s HciStatus) String() string {
	if name, ok := hciStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("hci(0x%02X)", uint8(s))
}

// TimeoutSource identifies which procedure a GAP timeout belongs to
type TimeoutSource uint8

const (
	TimeoutSourceAdvertising TimeoutSource = 0x00
	TimeoutSourceScan        TimeoutSource = 0x01
	TimeoutSourceConn        TimeoutSource = 0x02
	TimeoutSourceAuthPayload TimeoutSource = 0x03
)

func (s TimeoutSource) String() string {
	switch s {
	case TimeoutSourceAdvertising:
		return "advertising"
	case TimeoutSourceScan:
		return "scan"
	case TimeoutSourceConn:
		return "conn"
	case TimeoutSourceAuthPayload:
		return "auth_payload"
	default:
		return fmt.Sprintf("timeout-source(%d)", uint8(s))
	}
}

// MemType is the kind of user memory block the controller asks for
type MemType uint8

const (
	MemTypeInvalid           MemType = 0x00
	MemTypeGattsQueuedWrites MemType = 0x01
)

// DataLengthParams describes link-layer data length limits
type DataLengthParams struct {
	MaxTxOctets uint16
	MaxRxOctets uint16
	MaxTxTimeUs uint16
	MaxRxTimeUs uint16
}

// DefaultDataLengthParams returns the maximum data length of BLE 4.2+
func DefaultDataLengthParams() DataLengthParams {
	return DataLengthParams{
		MaxTxOctets: 251,
		MaxRxOctets: 251,
		MaxTxTimeUs: 2120,
		MaxRxTimeUs: 2120,
	}
}

// Unit is a controller time unit
type Unit time.Duration

const (
	Unit625us  Unit = Unit(625 * time.Microsecond)
	Unit1250us Unit = Unit(1250 * time.Microsecond)
	Unit10ms   Unit = Unit(10 * time.Millisecond)
)

// ToUnits converts d to a count of u, rounding to the nearest unit
func ToUnits(d time.Duration, u Unit) uint16 {
	return uint16(math.Round(float64(d) / float64(u)))
}

// FromUnits converts a count of u to a duration
func FromUnits(n uint16, u Unit) time.Duration {
	return time.Duration(n) * time.Duration(u)
}
