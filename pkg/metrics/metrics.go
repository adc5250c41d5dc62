package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Publisher metrics
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_dispatches_total",
			Help: "Total number of dispatch passes by publisher",
		},
		[]string{"publisher"},
	)

	HandlerInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_handler_invocations_total",
			Help: "Total number of subscriber invocations by publisher",
		},
		[]string{"publisher"},
	)

	SubscriptionsReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_subscriptions_reaped_total",
			Help: "Subscriptions removed because their handler was garbage collected",
		},
		[]string{"publisher"},
	)

	HandlerPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_handler_panics_total",
			Help: "Total number of recovered subscriber panics by publisher",
		},
		[]string{"publisher"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blatann_dispatch_duration_seconds",
			Help:    "Time taken by one dispatch pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"publisher"},
	)

	// Waitable metrics
	WaitableOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_waitable_outcomes_total",
			Help: "Waitable results by outcome (fired, timeout, closed, cancelled)",
		},
		[]string{"outcome"},
	)

	// Driver metrics
	DriversOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blatann_drivers_open",
			Help: "Number of drivers with an open serial port",
		},
	)

	DriverEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_driver_events_total",
			Help: "Total number of driver events routed by port and kind",
		},
		[]string{"port", "kind"},
	)

	DriverEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_driver_events_dropped_total",
			Help: "Driver events dropped by the router by port and reason",
		},
		[]string{"port", "reason"},
	)

	DriverQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blatann_driver_queue_depth",
			Help: "Events waiting for the dispatch goroutine by port",
		},
		[]string{"port"},
	)

	DriverCommandsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blatann_driver_commands_failed_total",
			Help: "Driver commands that returned an error by command",
		},
		[]string{"command"},
	)

	// Device metrics
	PeersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blatann_peers_connected",
			Help: "Number of peers currently connected",
		},
	)

	JournalEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blatann_journal_events_total",
			Help: "Total number of driver events written to the journal",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(HandlerInvocationsTotal)
	prometheus.MustRegister(SubscriptionsReapedTotal)
	prometheus.MustRegister(HandlerPanicsTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(WaitableOutcomesTotal)
	prometheus.MustRegister(DriversOpen)
	prometheus.MustRegister(DriverEventsTotal)
	prometheus.MustRegister(DriverEventsDropped)
	prometheus.MustRegister(DriverQueueDepth)
	prometheus.MustRegister(DriverCommandsFailed)
	prometheus.MustRegister(PeersConnected)
	prometheus.MustRegister(JournalEventsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
