/*
Package device is the peripheral side of a controller: the device itself,
its advertiser and the peer of the central that connects to it.

A BleDevice wraps one driver. Opening it opens the port and enables the
stack. The Advertiser sends the advertising payloads built with AdvData and
starts advertising; Start returns a ConnectionWaitable that resolves with
the client Peer when a central connects, or with nil when advertising times
out.

	dev, err := device.New(manager, driver.Config{Port: "COM3", Transport: tr})
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.Open(); err != nil {
		return err
	}

	adv := device.NewAdvData().
		SetFlags(device.AdvFlagGeneralDiscoveryMode | device.AdvFlagBrEdrNotSupported).
		SetName("Blatann", true)
	if err := dev.Advertiser.SetData(adv, nil); err != nil {
		return err
	}

	w, err := dev.Advertiser.Start()
	if err != nil {
		return err
	}
	peer, err := w.WaitTimeout(30 * time.Second)
	if err != nil || peer == nil {
		return err
	}

	dw, err := peer.Disconnect()
	if err != nil {
		return err
	}
	_, err = dw.Wait()

The Peer answers PHY and data length update requests while connected and
republishes their outcome on its own publishers. Every handler the device
registers with the driver is owned by the device, so the driver never keeps
it alive. Closing the device fails every pending waitable with
events.ErrChannelClosed.
*/
package device
