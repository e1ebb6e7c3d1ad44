// Package tinygo is the tinygo.org/x/bluetooth backend of the device interfaces.
// It covers hosts where go-ble cannot run (Windows, BlueZ over D-Bus). The
// library exposes no descriptor access, so only standard activation works.
package tinygo

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/scanner"
)

// DefaultScanWindow is how long RequestDevice scans before offering candidates
const DefaultScanWindow = 5 * time.Second

// Platform implements device.Platform on top of tinygo bluetooth
type Platform struct {
	radio      Radio
	chooser    device.Chooser
	scanWindow time.Duration
	logger     *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	// live links by address, for the adapter-wide disconnect callback
	links *hashmap.Map[string, *peripheral]
}

// NewPlatform creates the backend over the default adapter
func NewPlatform(chooser device.Chooser, scanWindow time.Duration, logger *logrus.Logger) *Platform {
	return NewPlatformWithRadio(NewRadio(), chooser, scanWindow, logger)
}

// NewPlatformWithRadio uses the given radio instead of the default adapter
func NewPlatformWithRadio(radio Radio, chooser device.Chooser, scanWindow time.Duration, logger *logrus.Logger) *Platform {
	if scanWindow <= 0 {
		scanWindow = DefaultScanWindow
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Platform{
		radio:      radio,
		chooser:    chooser,
		scanWindow: scanWindow,
		logger:     logger,
		links:      hashmap.New[string, *peripheral](),
	}
}

// Available enables the adapter once
func (p *Platform) Available() error {
	p.enableOnce.Do(func() {
		if err := p.radio.Enable(); err != nil {
			p.logger.WithError(err).Error("Failed to enable BLE adapter")
			p.enableErr = fmt.Errorf("%w: %v", device.ErrUnavailable, err)
			return
		}
		p.radio.SetDisconnectHandler(p.linkLost)
	})
	return p.enableErr
}

func (p *Platform) linkLost(address string) {
	per, ok := p.links.Get(address)
	if !ok {
		p.logger.WithField("address", address).Debug("Disconnect for untracked device")
		return
	}
	p.links.Del(address)
	per.fireDisconnect()
}

// probeScanner adapts the radio to device.Scanner with a fixed probe list
type probeScanner struct {
	radio Radio
	probe []string
}

func (s probeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	return s.radio.Scan(ctx, s.probe, handler)
}

// Scanner returns an advertisement source probing for the given services
func (p *Platform) Scanner(probe ...string) (device.Scanner, error) {
	if err := p.Available(); err != nil {
		return nil, err
	}
	return probeScanner{radio: p.radio, probe: probe}, nil
}

// RequestDevice scans for the scan window and lets the chooser pick one candidate
func (p *Platform) RequestDevice(ctx context.Context, opts device.RequestOptions) (device.Peripheral, error) {
	if err := p.Available(); err != nil {
		return nil, err
	}
	if p.chooser == nil {
		return nil, fmt.Errorf("%w: no chooser configured", device.ErrCancelled)
	}

	probe := append(append([]string{}, opts.Services...), opts.OptionalServices...)
	sc, err := scanner.NewScanner(probeScanner{radio: p.radio, probe: probe}, p.logger)
	if err != nil {
		return nil, err
	}
	scanOpts := &scanner.ScanOptions{
		Duration:        p.scanWindow,
		DuplicateFilter: true,
		Request:         opts,
	}
	if t, ok := p.chooser.(device.Targeter); ok {
		scanOpts.StopWhen = t.Targets
	}

	candidates, err := sc.Scan(ctx, scanOpts, nil)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, device.ErrNoDevice
	}
	chosen, err := p.chooser.Choose(ctx, candidates)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"address": chosen.Address,
		"name":    chosen.Name,
		"rssi":    chosen.RSSI,
	}).Info("Device chosen")

	return &peripheral{
		platform:  p,
		adv:       chosen,
		observers: make(map[int]func()),
	}, nil
}

type peripheral struct {
	platform *Platform
	adv      device.Advertisement

	mu        sync.Mutex
	observers map[int]func()
	nextID    int
}

func (p *peripheral) ID() string   { return p.adv.Address }
func (p *peripheral) Name() string { return p.adv.Name }

func (p *peripheral) OnDisconnect(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

func (p *peripheral) fireDisconnect() {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	p.platform.logger.WithField("address", p.adv.Address).Warn("Link lost")
	for _, fn := range fns {
		fn()
	}
}

func (p *peripheral) Connect(ctx context.Context) (device.Server, error) {
	p.platform.logger.WithField("address", p.adv.Address).Debug("Connecting to BLE device...")
	link, err := p.platform.radio.Connect(ctx, p.adv.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", p.adv.Address, err)
	}
	p.platform.links.Set(p.adv.Address, p)
	return &server{link: link, peripheral: p}, nil
}
