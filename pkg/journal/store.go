package journal

import (
	"time"

	"github.com/cuemby/blatann/pkg/driver"
)

// Entry is one recorded driver event
type Entry struct {
	Seq   uint64       `json:"seq"`
	Time  time.Time    `json:"time"`
	Port  string       `json:"port"`
	Event driver.Event `json:"event"`
}

// Store defines the interface for event journal storage
type Store interface {
	// Record appends ev to the journal of port and returns its sequence number
	Record(port string, ev driver.Event) (uint64, error)

	// List returns every entry of port in recording order
	List(port string) ([]Entry, error)

	// Replay calls fn with every entry of port in recording order. It stops
	// at the first error fn returns.
	Replay(port string, fn func(Entry) error) error

	// Ports lists the ports that have a journal
	Ports() ([]string, error)

	// Utility
	Close() error
}
