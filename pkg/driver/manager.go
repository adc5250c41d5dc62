package driver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
)

// Manager owns the drivers of a process, one per port
type Manager struct {
	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{drivers: make(map[string]*Driver)}
}

// Create builds a driver for cfg.Port and starts its dispatch goroutine.
// The port is not opened.
func (m *Manager) Create(cfg Config) (*Driver, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("driver config: port is required")
	}
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.drivers[cfg.Port]; exists {
		return nil, fmt.Errorf("port %s: %w", cfg.Port, ErrPortExists)
	}

	d := newDriver(cfg)
	m.drivers[cfg.Port] = d
	go d.run()

	l := log.WithPort(cfg.Port)
	l.Debug().Int("queue_size", cap(d.queue)).Msg("Driver created")
	return d, nil
}

// Get returns the driver of port
func (m *Manager) Get(port string) (*Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[port]
	return d, ok
}

// Remove closes the driver of port and forgets it
func (m *Manager) Remove(port string) error {
	m.mu.Lock()
	d, ok := m.drivers[port]
	delete(m.drivers, port)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("port %s: %w", port, ErrPortNotFound)
	}
	metrics.DriverQueueDepth.DeleteLabelValues(port)
	return d.Close()
}

// DriverStats implements metrics.StatsSource
func (m *Manager) DriverStats() []metrics.DriverStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]metrics.DriverStats, 0, len(m.drivers))
	for port, d := range m.drivers {
		stats = append(stats, metrics.DriverStats{
			Port:       port,
			Open:       d.IsOpen(),
			QueueDepth: d.QueueDepth(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Port < stats[j].Port })
	return stats
}

// Shutdown removes every driver and waits up to timeout for their dispatch
// goroutines to exit.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	drivers := make([]*Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		drivers = append(drivers, d)
	}
	m.drivers = make(map[string]*Driver)
	m.mu.Unlock()

	var firstErr error
	for _, d := range drivers {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	deadline := time.After(timeout)
	for _, d := range drivers {
		select {
		case <-d.Done():
		case <-deadline:
			return fmt.Errorf("timed out waiting for driver %s to stop", d.Port)
		}
	}
	return firstErr
}
