/*
Package types defines the BLE value types shared by the driver, the device
layer and the journal.

The types mirror what the controller reports: connection handles, device
addresses, advertising and connection parameters, PHY preferences, HCI status
codes and GAP timeout sources. They carry no behavior beyond formatting,
validation and unit conversion, so every other package can depend on them.

# Time Units

The controller expresses intervals in fixed units. Durations are converted
with ToUnits and FromUnits:

	Unit625us   advertising interval
	Unit1250us  connection interval
	Unit10ms    supervision timeout

	interval := types.ToUnits(40*time.Millisecond, types.Unit625us) // 64

# Addresses

Addresses are stored most significant byte first, the way they are printed:

	addr, err := types.ParseAddress("C0:FF:EE:00:11:22", types.AddressTypeRandomStatic)
	fmt.Println(addr) // C0:FF:EE:00:11:22
*/
package types
