package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/driver/sim"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/types"
	"gopkg.in/yaml.v3"
)

// Transports a configuration can select
const (
	TransportSim  = "sim"
	TransportHost = "host"
)

// Config is the on-disk configuration of the blatann CLI
type Config struct {
	Port           string            `yaml:"port"`
	Transport      string            `yaml:"transport"`
	Baud           uint32            `yaml:"baud"`
	QueueSize      int               `yaml:"queue_size,omitempty"`
	LogDriverComms bool              `yaml:"log_driver_comms,omitempty"`
	Log            LogConfig         `yaml:"log"`
	Advertising    AdvertisingConfig `yaml:"advertising"`
	Simulator      SimulatorConfig   `yaml:"simulator"`
	MetricsAddr    string            `yaml:"metrics_addr,omitempty"`
	JournalPath    string            `yaml:"journal_path,omitempty"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AdvertisingConfig configures the advertise command
type AdvertisingConfig struct {
	Name        string `yaml:"name"`
	IntervalMs  int    `yaml:"interval_ms"`
	TimeoutS    int    `yaml:"timeout_s"`
	Type        string `yaml:"type"`
	AutoRestart bool   `yaml:"auto_restart,omitempty"`
}

// SimulatorConfig configures the simulated controller
type SimulatorConfig struct {
	ConnectAfter   time.Duration `yaml:"connect_after"`
	CentralAddress string        `yaml:"central_address,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Port:      "sim0",
		Transport: TransportSim,
		Baud:      1000000,
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Advertising: AdvertisingConfig{
			Name:       "Blatann",
			IntervalMs: 100,
			TimeoutS:   30,
			Type:       types.AdvTypeConnectableUndirected.String(),
		},
		Simulator: SimulatorConfig{
			ConnectAfter: 500 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every field is usable
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Transport != TransportSim && c.Transport != TransportHost {
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue_size must not be negative, got %d", c.QueueSize))
	}
	if c.Log.Level != "" && log.ParseLevel(c.Log.Level) != log.Level(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if _, err := c.AdvParams(); err != nil {
		errs = append(errs, fmt.Errorf("advertising: %w", err))
	}
	if len(c.Advertising.Name) > sim.MaxAdvDataLen {
		errs = append(errs, fmt.Errorf("advertising: name longer than %d bytes", sim.MaxAdvDataLen))
	}
	if c.Simulator.ConnectAfter < 0 {
		errs = append(errs, errors.New("simulator: connect_after must not be negative"))
	}
	if c.Simulator.CentralAddress != "" {
		if _, err := types.ParseAddress(c.Simulator.CentralAddress, types.AddressTypeRandomStatic); err != nil {
			errs = append(errs, fmt.Errorf("simulator: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// AdvParams converts the advertising section to driver parameters
func (c *Config) AdvParams() (types.AdvParams, error) {
	typ, err := types.ParseAdvType(c.Advertising.Type)
	if err != nil {
		return types.AdvParams{}, err
	}
	p := types.AdvParams{
		Interval: time.Duration(c.Advertising.IntervalMs) * time.Millisecond,
		Timeout:  time.Duration(c.Advertising.TimeoutS) * time.Second,
		Type:     typ,
	}
	if err := p.Validate(); err != nil {
		return types.AdvParams{}, err
	}
	return p, nil
}

// LogConfig returns the logger configuration
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}

// SimOptions returns the options of the simulated controller
func (c *Config) SimOptions() (sim.Options, error) {
	opts := sim.DefaultOptions()
	opts.ConnectAfter = c.Simulator.ConnectAfter
	if c.Simulator.CentralAddress != "" {
		addr, err := types.ParseAddress(c.Simulator.CentralAddress, types.AddressTypeRandomStatic)
		if err != nil {
			return sim.Options{}, err
		}
		opts.PeerAddress = addr
	}
	return opts, nil
}

// DriverConfig returns the driver settings, using t as the transport
func (c *Config) DriverConfig(t driver.Transport) driver.Config {
	return driver.Config{
		Port:           c.Port,
		Baud:           c.Baud,
		QueueSize:      c.QueueSize,
		LogDriverComms: c.LogDriverComms,
		Transport:      t,
	}
}
