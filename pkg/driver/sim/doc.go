// Package sim provides an in-process BLE controller for tests and demos.
//
// The simulator answers driver commands the way a peripheral-only
// controller would: advertising either ends with a central connecting
// after Options.ConnectAfter or with an advertising GAP timeout, and
// disconnect, PHY and data length commands produce the matching events.
// Helpers such as Connect, PeerDisconnect and Inject drive the simulated
// central from a test.
package sim
