package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cuemby/blatann/pkg/config"
	"github.com/cuemby/blatann/pkg/device"
	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/journal"
	"github.com/spf13/cobra"
)

var advertiseCmd = &cobra.Command{
	Use:   "advertise",
	Short: "Advertise and wait for a central to connect",
	Long: `Open the device, advertise with the configured name and wait for a
central to connect. Once connected, either disconnect right away
(--disconnect) or wait until the central disconnects.

Examples:
  # Advertise for 30 seconds, disconnect as soon as a central connects
  blatann advertise --name Sensor --timeout 30 --disconnect

  # Serve Prometheus metrics while advertising
  blatann advertise --metrics-addr :9090`,
	RunE: runAdvertise,
}

func init() {
	advertiseCmd.Flags().String("port", "", "Serial port of the controller")
	advertiseCmd.Flags().String("name", "", "Advertised device name")
	advertiseCmd.Flags().Int("timeout", 0, "Advertising timeout in seconds")
	advertiseCmd.Flags().Duration("connect-after", 0, "Delay before the simulated central connects")
	advertiseCmd.Flags().Bool("disconnect", false, "Disconnect as soon as a central connects")
	advertiseCmd.Flags().Bool("auto-restart", false, "Restart advertising after each disconnection")
	advertiseCmd.Flags().String("metrics-addr", "", "Address to serve metrics and health on")
}

func applyAdvertiseFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Advertising.Name, _ = flags.GetString("name")
	}
	if flags.Changed("timeout") {
		cfg.Advertising.TimeoutS, _ = flags.GetInt("timeout")
	}
	if flags.Changed("connect-after") {
		cfg.Simulator.ConnectAfter, _ = flags.GetDuration("connect-after")
	}
	if flags.Changed("auto-restart") {
		cfg.Advertising.AutoRestart, _ = flags.GetBool("auto-restart")
	}
	return cfg.Validate()
}

func runAdvertise(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyAdvertiseFlags(cmd, cfg); err != nil {
		return err
	}
	disconnect, _ := cmd.Flags().GetBool("disconnect")

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	params, err := cfg.AdvParams()
	if err != nil {
		return err
	}

	mgr := driver.NewManager()
	defer func() { _ = mgr.Shutdown(5 * time.Second) }()

	stopMetrics := startMetrics(cfg.MetricsAddr, mgr)
	defer stopMetrics()

	dev, err := device.New(mgr, cfg.DriverConfig(transport))
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	defer dev.Close()

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		j.Attach(dev.Driver)
	}

	if err := dev.Open(); err != nil {
		return err
	}

	onTimeout := events.NewFunc(func(*device.Advertiser, device.AdvertisingTimeoutEvent) events.Action {
		fmt.Println("Advertising timed out")
		return events.ActionNone
	})
	events.Subscribe(dev.Advertiser.OnTimeout, onTimeout)
	defer runtime.KeepAlive(onTimeout)

	adv := device.NewAdvData().
		SetFlags(device.AdvFlagGeneralDiscoveryMode | device.AdvFlagBrEdrNotSupported).
		SetName(cfg.Advertising.Name, true)
	if err := dev.Advertiser.SetParams(params, cfg.Advertising.AutoRestart); err != nil {
		return err
	}
	if err := dev.Advertiser.SetData(adv, nil); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := dev.Advertiser.Start()
	if err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	fmt.Printf("Advertising as %q on %s (timeout %s)\n", cfg.Advertising.Name, dev.Port(), params.Timeout)

	peer, err := w.WaitContext(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted")
		return nil
	}
	if err != nil {
		return err
	}
	if peer == nil {
		fmt.Println("No central connected")
		return nil
	}
	fmt.Printf("Connected to %s (handle %d)\n", peer.Address(), peer.ConnHandle())

	if disconnect {
		dw, err := peer.Disconnect()
		if err != nil {
			return err
		}
		args, err := dw.WaitTimeout(5 * time.Second)
		if err != nil {
			return fmt.Errorf("waiting for disconnection: %w", err)
		}
		fmt.Printf("Disconnected: %s\n", args.Event.Reason)
		return nil
	}

	dw := events.NewEventWaitable(peer.OnDisconnect)
	args, err := dw.WaitContext(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Central disconnected: %s\n", args.Event.Reason)
	return nil
}
