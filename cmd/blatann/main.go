package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/blatann/pkg/config"
	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/driver/host"
	"github.com/cuemby/blatann/pkg/driver/sim"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blatann",
	Short: "Blatann - BLE peripheral control over a serial controller",
	Long: `Blatann drives a BLE controller attached to a serial port and exposes
its events through typed publishers and waitables.

Without hardware, commands run against a simulated controller whose
central connects on a configurable delay.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Blatann version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON format")
	rootCmd.PersistentFlags().String("journal", "", "Journal file for driver events")
	rootCmd.PersistentFlags().String("transport", "", "Controller transport (sim, host)")

	rootCmd.AddCommand(advertiseCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Blatann version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads the config file if one is given, applies the flags
// that were set explicitly and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("transport") {
		cfg.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("journal") {
		cfg.JournalPath, _ = flags.GetString("journal")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetString("port")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Init(cfg.LogConfig())
	return cfg, nil
}

// newTransport builds the transport selected by cfg
func newTransport(cfg *config.Config) (driver.Transport, error) {
	switch cfg.Transport {
	case config.TransportHost:
		return host.New(), nil
	default:
		opts, err := cfg.SimOptions()
		if err != nil {
			return nil, err
		}
		return sim.New(opts), nil
	}
}

// startMetrics serves metrics and health on addr and keeps driver gauges
// current. The returned function stops both.
func startMetrics(addr string, mgr *driver.Manager) func() {
	if addr == "" {
		return func() {}
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("driver", false, "not open")

	collector := metrics.NewCollector(mgr, 5*time.Second)
	collector.Start()

	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.NewServeMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("Metrics server listening")

	return func() {
		collector.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
