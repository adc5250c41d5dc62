package device

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// MaxAdvDataLen is the largest encoded payload of a legacy advertising packet
const MaxAdvDataLen = 31

// AdvDataType is the type octet of an advertising data entry
type AdvDataType uint8

const (
	AdvDataFlags                    AdvDataType = 0x01
	AdvDataService16MoreAvailable   AdvDataType = 0x02
	AdvDataService16Complete        AdvDataType = 0x03
	AdvDataService128MoreAvailable  AdvDataType = 0x06
	AdvDataService128Complete       AdvDataType = 0x07
	AdvDataShortLocalName           AdvDataType = 0x08
	AdvDataCompleteLocalName        AdvDataType = 0x09
	AdvDataTxPowerLevel             AdvDataType = 0x0A
	AdvDataManufacturerSpecificData AdvDataType = 0xFF
)

// AdvFlags are the discoverability flags of an advertising payload
type AdvFlags uint8

const (
	AdvFlagLimitedDiscoveryMode AdvFlags = 0x01
	AdvFlagGeneralDiscoveryMode AdvFlags = 0x02
	AdvFlagBrEdrNotSupported    AdvFlags = 0x04
	AdvFlagBrEdrController      AdvFlags = 0x08
	AdvFlagBrEdrHost            AdvFlags = 0x10
)

// AdvData builds an advertising or scan response payload. Each type holds
// at most one entry; setting it again replaces the previous value.
type AdvData struct {
	entries map[AdvDataType][]byte
}

// NewAdvData creates an empty payload
func NewAdvData() *AdvData {
	return &AdvData{entries: make(map[AdvDataType][]byte)}
}

// AddEntry sets the raw value of an entry
func (a *AdvData) AddEntry(t AdvDataType, data []byte) *AdvData {
	if a.entries == nil {
		a.entries = make(map[AdvDataType][]byte)
	}
	a.entries[t] = slices.Clone(data)
	return a
}

// Entry returns the value of an entry
func (a *AdvData) Entry(t AdvDataType) ([]byte, bool) {
	v, ok := a.entries[t]
	return v, ok
}

// SetFlags sets the flags entry
func (a *AdvData) SetFlags(flags AdvFlags) *AdvData {
	return a.AddEntry(AdvDataFlags, []byte{byte(flags)})
}

// SetName sets the complete or shortened local name
func (a *AdvData) SetName(name string, complete bool) *AdvData {
	t := AdvDataShortLocalName
	if complete {
		t = AdvDataCompleteLocalName
	}
	return a.AddEntry(t, []byte(name))
}

// SetServiceUUID16s lists 16-bit service UUIDs
func (a *AdvData) SetServiceUUID16s(uuids []uint16, complete bool) *AdvData {
	t := AdvDataService16MoreAvailable
	if complete {
		t = AdvDataService16Complete
	}
	data := make([]byte, 0, 2*len(uuids))
	for _, u := range uuids {
		data = binary.LittleEndian.AppendUint16(data, u)
	}
	return a.AddEntry(t, data)
}

// SetServiceUUID128s lists 128-bit service UUIDs. They are encoded least
// significant byte first, as on the air.
func (a *AdvData) SetServiceUUID128s(uuids []uuid.UUID, complete bool) *AdvData {
	t := AdvDataService128MoreAvailable
	if complete {
		t = AdvDataService128Complete
	}
	data := make([]byte, 0, 16*len(uuids))
	for _, u := range uuids {
		b := u[:]
		for i := len(b) - 1; i >= 0; i-- {
			data = append(data, b[i])
		}
	}
	return a.AddEntry(t, data)
}

// Serialize encodes the entries as length-type-value records in ascending
// type order.
func (a *AdvData) Serialize() []byte {
	kinds := make([]AdvDataType, 0, len(a.entries))
	for t := range a.entries {
		kinds = append(kinds, t)
	}
	slices.Sort(kinds)

	var out []byte
	for _, t := range kinds {
		data := a.entries[t]
		out = append(out, byte(len(data)+1), byte(t))
		out = append(out, data...)
	}
	return out
}

// Validate checks that the encoded payload fits in one packet
func (a *AdvData) Validate() error {
	if n := len(a.Serialize()); n > MaxAdvDataLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrAdvDataTooLong, n, MaxAdvDataLen)
	}
	return nil
}
