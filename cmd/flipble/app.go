package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/flipble/internal/chooser"
	"github.com/srg/flipble/internal/device"
	goble "github.com/srg/flipble/internal/device/go-ble"
	"github.com/srg/flipble/internal/device/tinygo"
	"github.com/srg/flipble/internal/presenter"
	"github.com/srg/flipble/pkg/config"
	"github.com/srg/flipble/pkg/flipper"
	"golang.org/x/term"
)

// Platform is a backend able to both pick a device and list advertisements
type Platform interface {
	device.Platform
	Scanner(probe ...string) (device.Scanner, error)
}

// newPlatform builds the configured backend; tests replace it with a fake
var newPlatform = func(cfg *config.Config, ch device.Chooser, logger *logrus.Logger) (Platform, error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		return goble.NewPlatform(ch, cfg.ScanTimeout, logger), nil
	case config.BackendTinyGo:
		return tinygo.NewPlatform(ch, cfg.ScanTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// isInteractive reports whether stdin is a terminal; tests replace it
var isInteractive = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func addGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "YAML configuration file")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.Bool("verbose", false, "Enable debug logging")
	f.String("backend", "", "BLE backend (goble, tinygo)")
	f.String("address", "", "Connect to the device with this address")
	f.String("name", "", "Connect to the first device whose name contains this text")
	f.String("discovery", "", "Device discovery (broad: every device, filtered: Flipper service only)")
	f.String("activation", "", "Notification activation (standard, descriptor, auto)")
	f.Duration("settle-delay", 0, "Pause before the link is declared ready (0 disables)")
	f.Duration("scan-timeout", 0, "How long to scan before choosing a device")
	f.Bool("no-wake", false, "Do not send the wake-up line after connecting")
	f.Bool("no-color", false, "Disable coloured output")
	f.Bool("debug", false, "Show debug messages in the console")
	f.String("mqtt-broker", "", "Mirror console output to this MQTT broker (e.g. tcp://localhost:1883)")
	f.String("mqtt-topic", "", "MQTT topic prefix")
}

// loadConfig reads --config and applies the flags the user actually set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &cfg.LogLevel)
	str("backend", &cfg.Backend)
	str("address", &cfg.Address)
	str("name", &cfg.Name)
	str("discovery", &cfg.Discovery)
	str("activation", &cfg.Activation)
	str("mqtt-broker", &cfg.MQTT.Broker)
	str("mqtt-topic", &cfg.MQTT.Topic)

	if flags.Changed("settle-delay") {
		cfg.SettleDelay, _ = flags.GetDuration("settle-delay")
	}
	if flags.Changed("scan-timeout") {
		cfg.ScanTimeout, _ = flags.GetDuration("scan-timeout")
	}
	if v, _ := flags.GetBool("no-wake"); v {
		cfg.WakeUp = false
	}
	if v, _ := flags.GetBool("no-color"); v {
		cfg.Color = false
	}
	if v, _ := flags.GetBool("debug"); v {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session bundles what every connecting command needs
type session struct {
	cfg       *config.Config
	logger    *logrus.Logger
	terminal  *presenter.Terminal
	transport *flipper.Transport
	platform  Platform
	closers   []func()
}

// sessionIO is where a session talks to the user
type sessionIO struct {
	In  io.Reader
	Out io.Writer
	// Lines, when set, feeds the device prompt from an existing line reader
	Lines <-chan string
}

// newSession builds presenters, backend and transport from the command's configuration
func newSession(ctx context.Context, cmd *cobra.Command, sio sessionIO) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger}
	s.terminal = presenter.NewTerminal(sio.Out, cfg.Debug, cfg.Color)
	sinks := []flipper.Presenter{s.terminal, presenter.NewLogger(logger)}

	if cfg.MQTT.Broker != "" {
		mirror, err := s.openMQTT(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		sinks = append(sinks, mirror)
	}

	ch := chooser.New(cfg.Address, cfg.Name, isInteractive(), sio.In, sio.Out)
	if p, ok := ch.(*chooser.Prompt); ok && sio.Lines != nil {
		p.Lines = sio.Lines
	}
	s.platform, err = newPlatform(cfg, ch, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.transport, err = flipper.NewTransport(s.platform, presenter.NewMulti(sinks...), cfg.TransportOptions(), logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) openMQTT(ctx context.Context) (flipper.Presenter, error) {
	client, err := presenter.ConnectMQTT(ctx, presenter.MQTTOptions{
		Broker:   s.cfg.MQTT.Broker,
		ClientID: s.cfg.MQTT.ClientID,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect MQTT broker: %w", err)
	}
	mirror, err := presenter.NewMQTT(client, s.cfg.MQTT.Topic, s.cfg.MQTT.QueueSize, s.logger)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	s.closers = append(s.closers, func() {
		mirror.Close()
		client.Disconnect(250)
	})
	return mirror, nil
}

// connect runs the connect sequence; failures were already shown by the presenters
func (s *session) connect(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return &reportedError{err}
	}
	return nil
}

// Close disconnects and releases the MQTT mirror. Safe on a partial session.
func (s *session) Close() {
	if s.transport != nil && s.transport.State() != flipper.StateDisconnected {
		if err := s.transport.Disconnect(); err != nil {
			s.logger.WithError(err).Debug("Disconnect on close failed")
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// signalContext is cancelled by Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
