package events

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by waitables.
var (
	// ErrChannelClosed is returned when the source of a waitable was torn
	// down before the awaited event fired.
	ErrChannelClosed = errors.New("event channel closed before the event fired")

	// ErrTimeout is returned when a wait deadline elapses first. The
	// waitable stays armed and can still fire afterwards.
	ErrTimeout = errors.New("timed out waiting for event")

	// ErrCancelled is returned once a waitable was cancelled by its owner.
	ErrCancelled = fmt.Errorf("waitable cancelled: %w", ErrChannelClosed)
)

// PanicError describes a subscriber that panicked during dispatch.
type PanicError struct {
	// Publisher is the name of the publisher that was dispatching.
	Publisher string

	// SubscriptionID identifies the subscription whose handler panicked.
	SubscriptionID uuid.UUID

	// Value is the value passed to panic().
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("subscriber %s on publisher %q panicked: %v", e.SubscriptionID, e.Publisher, e.Value)
}
