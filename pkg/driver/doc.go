/*
Package driver connects to a BLE controller and turns its asynchronous
events into typed publishers.

# Architecture

	┌────────────────────────── DRIVER (one per port) ───────────────────────────┐
	│                                                                             │
	│  Transport ──EventSink──► queue (buffered) ──► dispatch goroutine           │
	│     ▲                                             │                          │
	│     │ Call (serialized)                           ▼                          │
	│  Driver commands                          Events.Dispatch(driver, ev)        │
	│  (BleEnable, GapAdvStart, ...)                    │                          │
	│                                    ┌──────────────┼─────────────────┐        │
	│                                    ▼              ▼                 ▼        │
	│                                   Raw        Connected  ...  DataLengthUpdate │
	└─────────────────────────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Creates one Driver per port and starts its dispatch goroutine
  - Remove closes a driver; Shutdown closes all and waits for them
  - Implements metrics.StatsSource for the collector

Driver:
  - Open/Close the port through its Transport
  - Synchronous commands, serialized by a mutex
  - Events queued by the transport are dispatched one at a time, in order
  - A full queue blocks the transport instead of dropping events

Events:
  - One events.Publisher per event kind, plus Raw for every event
  - Unknown kinds and mismatched payloads are logged and dropped
  - Close fails every pending waitable with events.ErrChannelClosed

Transport:
  - Open(sink), Close, Call(cmd)
  - pkg/driver/sim provides an in-process controller

# Errors

Controller status codes are returned as *NrfError wrapped with the command
name. Compare with errors.Is against the sentinels:

	if err := d.GapAdvStop(); errors.Is(err, driver.ErrInvalidState) {
		// not advertising
	}

# Shutdown

Close may be called from a subscriber. It stops the dispatch goroutine
without waiting; Done is closed once every publisher has been closed.
*/
package driver
