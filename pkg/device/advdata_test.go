package device

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvDataSerialize(t *testing.T) {
	adv := NewAdvData().
		SetName("Hi", true).
		SetFlags(AdvFlagGeneralDiscoveryMode | AdvFlagBrEdrNotSupported).
		SetServiceUUID16s([]uint16{0x180D, 0x180F}, true)

	// Entries come out in ascending type order regardless of insertion.
	assert.Equal(t, []byte{
		0x02, 0x01, 0x06,
		0x05, 0x03, 0x0D, 0x18, 0x0F, 0x18,
		0x03, 0x09, 'H', 'i',
	}, adv.Serialize())
	assert.NoError(t, adv.Validate())
}

func TestAdvDataReplacesEntry(t *testing.T) {
	adv := NewAdvData().SetName("first", false).SetName("second", false)

	v, ok := adv.Entry(AdvDataShortLocalName)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), v)
	_, ok = adv.Entry(AdvDataCompleteLocalName)
	assert.False(t, ok)
}

func TestAdvDataUUID128(t *testing.T) {
	u := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	adv := NewAdvData().SetServiceUUID128s([]uuid.UUID{u}, false)

	v, ok := adv.Entry(AdvDataService128MoreAvailable)
	require.True(t, ok)
	assert.Equal(t, []byte{
		0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA, 0x99, 0x88,
		0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0x00,
	}, v)
}

func TestAdvDataValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    *AdvData
		wantErr bool
	}{
		{"empty", NewAdvData(), false},
		{"exactly full", NewAdvData().AddEntry(AdvDataManufacturerSpecificData, make([]byte, 29)), false},
		{"one byte over", NewAdvData().AddEntry(AdvDataManufacturerSpecificData, make([]byte, 30)), true},
		{"zero value", &AdvData{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAdvDataTooLong)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAdvDataAddEntryCopies(t *testing.T) {
	raw := []byte{0x01, 0x02}
	adv := (&AdvData{}).AddEntry(AdvDataManufacturerSpecificData, raw)
	raw[0] = 0xFF

	assert.Equal(t, []byte{0x03, 0xFF, 0x01, 0x02}, adv.Serialize())
}
