package device

import "errors"

var (
	// ErrNotConnected is returned by connection procedures on a peer that
	// has no active connection
	ErrNotConnected = errors.New("peer is not connected")

	// ErrAdvDataTooLong is returned when an advertising payload does not
	// fit in a legacy advertising packet
	ErrAdvDataTooLong = errors.New("advertising data too long")
)
