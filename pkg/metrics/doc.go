/*
Package metrics provides Prometheus instrumentation and health endpoints for
blatann.

All collectors are package-level variables registered with the default
Prometheus registry in init, so any package can record a sample without
plumbing a registry through constructors.

# Publisher metrics

Every events.Publisher records, labelled by its diagnostic name:

  - blatann_dispatches_total: dispatch passes
  - blatann_handler_invocations_total: subscribers actually invoked
  - blatann_subscriptions_reaped_total: subscriptions dropped because the
    handler was garbage collected without unsubscribing
  - blatann_handler_panics_total: recovered handler panics
  - blatann_dispatch_duration_seconds: wall time of one pass

blatann_waitable_outcomes_total counts how waitables finished: fired,
timeout, closed or cancelled. A timeout does not end a waitable, so the same
waitable may contribute a timeout and later a fired sample.

# Driver metrics

The driver manager and router record blatann_driver_events_total by port and
event kind, blatann_driver_events_dropped_total for events the router could
not deliver, and blatann_driver_commands_failed_total for commands the radio
rejected. A Collector polls the manager for open ports and queue depth and
mirrors the result into the "driver" health component.

# Endpoints

NewServeMux mounts /metrics, /health, /ready and /live:

	srv := &http.Server{Addr: ":9100", Handler: metrics.NewServeMux()}
	go srv.ListenAndServe()

Readiness waits for the components named by SetCriticalComponents, which
defaults to "driver".
*/
package metrics
