/*
Package log provides structured logging for blatann using zerolog.

A single package-level zerolog.Logger is configured once through Init and
shared by every package. Child loggers carry the context that matters when
reading a BLE trace: the component, the serial port of a driver, the name of
the publisher that dispatched, and the connection handle of a peer.

# Usage

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stderr,
	})

	drvLog := log.WithPort("/dev/ttyACM0")
	drvLog.Info().Msg("Opening port")

	pubLog := log.WithPublisher("Gap Timeout")
	pubLog.Debug().Str("subscription_id", id.String()).Msg("Reaped dead subscriber")

Until Init is called the global Logger is the zero zerolog.Logger, which
discards everything. Packages therefore derive child loggers at the point of
use rather than caching them in package variables.

# Levels

Trace is used for raw driver traffic, Debug for subscription bookkeeping
(reaped subscribers, waitables that fired twice), Info for lifecycle events
(port opened, advertising started), Warn for recoverable anomalies such as
event kinds the router does not know, and Error for handler panics and
failed driver commands.
*/
package log
