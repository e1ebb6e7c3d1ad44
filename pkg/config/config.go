package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/pkg/flipper"
	"gopkg.in/yaml.v3"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"panic"`
	Backend  string `yaml:"backend" default:"goble"`

	// transport
	Discovery   string        `yaml:"discovery" default:"broad"`
	Activation  string        `yaml:"activation" default:"auto"`
	SettleDelay time.Duration `yaml:"settle_delay" default:"100ms"`
	SettlePoint string        `yaml:"settle_point" default:"resolve"`
	WakeUp      bool          `yaml:"wake_up" default:"true"`
	StepTimeout time.Duration `yaml:"step_timeout" default:"20s"`

	// device selection
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`
	Address     string        `yaml:"address"`
	Name        string        `yaml:"name"`

	// terminal
	Color bool `yaml:"color" default:"true"`
	Debug bool `yaml:"debug"`

	MQTT   MQTTConfig        `yaml:"mqtt"`
	Bridge BridgeConfig      `yaml:"bridge"`
	Macros map[string]string `yaml:"macros"`
}

// MQTTConfig enables the MQTT mirror when Broker is set
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id" default:"flipble"`
	Topic     string `yaml:"topic" default:"flipble"`
	QueueSize uint32 `yaml:"queue_size" default:"1024"`
}

// BridgeConfig configures the PTY bridge
type BridgeConfig struct {
	Symlink    string `yaml:"symlink"`
	InputSize  int    `yaml:"input_size" default:"4096"`
	OutputSize int    `yaml:"output_size" default:"4096"`
	QueueDepth int    `yaml:"queue_depth" default:"16"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Level parses LogLevel, an empty value means silent
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.PanicLevel, nil
	}
	return logrus.ParseLevel(c.LogLevel)
}

// Validate rejects unknown enum values and impossible sizes
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		errs = append(errs, fmt.Errorf("invalid backend %q (must be %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo))
	}
	if err := c.TransportOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ScanTimeout < 0 {
		errs = append(errs, fmt.Errorf("scan timeout must not be negative: %s", c.ScanTimeout))
	}
	if c.Bridge.InputSize <= 0 || c.Bridge.OutputSize <= 0 {
		errs = append(errs, fmt.Errorf("bridge buffer sizes must be positive"))
	}
	if c.MQTT.Broker != "" && strings.TrimSpace(c.MQTT.Topic) == "" {
		errs = append(errs, fmt.Errorf("mqtt topic must be set when a broker is configured"))
	}
	for name, cmd := range c.Macros {
		if strings.ContainsAny(name, " \t") || name == "" {
			errs = append(errs, fmt.Errorf("invalid macro name %q", name))
		}
		if strings.ContainsAny(cmd, "\r\n") {
			errs = append(errs, fmt.Errorf("macro %q must be a single line", name))
		}
	}
	return errors.Join(errs...)
}

// TransportOptions maps the transport fields onto flipper.Options
func (c *Config) TransportOptions() flipper.Options {
	return flipper.Options{
		Discovery:   flipper.DiscoveryPolicy(c.Discovery),
		Activation:  flipper.ActivationStrategy(c.Activation),
		SettleDelay: c.SettleDelay,
		SettlePoint: flipper.SettlePoint(c.SettlePoint),
		WakeUp:      c.WakeUp,
		StepTimeout: c.StepTimeout,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
