package metrics

import (
	"sync"
	"time"
)

// DriverStats is a point-in-time view of one driver instance
type DriverStats struct {
	Port       string
	Open       bool
	QueueDepth int
}

// StatsSource reports the drivers a process currently owns
type StatsSource interface {
	DriverStats() []DriverStats
}

// Collector periodically copies driver state into gauges and health
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the collection goroutine to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collect() {
	stats := c.source.DriverStats()

	open := 0
	for _, s := range stats {
		if s.Open {
			open++
		}
		DriverQueueDepth.WithLabelValues(s.Port).Set(float64(s.QueueDepth))
	}
	DriversOpen.Set(float64(open))

	switch {
	case len(stats) == 0:
		UpdateComponent("driver", false, "no driver created")
	case open == 0:
		UpdateComponent("driver", false, "port closed")
	default:
		UpdateComponent("driver", true, "")
	}
}
