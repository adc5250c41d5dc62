// Package host implements driver.Transport on the host operating system's
// Bluetooth stack through tinygo.org/x/bluetooth.
//
// It covers the peripheral flow only: enabling the adapter, advertising a
// local name and 16-bit service UUIDs, and reporting connections and
// disconnections of centrals. Procedures the host stack does not expose
// return driver.ErrNotSupported.
package host
