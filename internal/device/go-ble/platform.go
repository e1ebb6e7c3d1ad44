// Package goble is the go-ble backend of the device interfaces.
package goble

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/internal/groutine"
	"github.com/srg/flipble/scanner"
)

// DefaultScanWindow is how long RequestDevice scans before offering candidates
const DefaultScanWindow = 5 * time.Second

// Platform implements device.Platform on top of go-ble
type Platform struct {
	chooser    device.Chooser
	scanWindow time.Duration
	logger     *logrus.Logger
	newCentral func() (Central, error)

	mu      sync.Mutex
	central Central
}

// NewPlatform creates the backend. A zero scanWindow uses DefaultScanWindow.
func NewPlatform(chooser device.Chooser, scanWindow time.Duration, logger *logrus.Logger) *Platform {
	return NewPlatformWithCentral(nil, chooser, scanWindow, logger)
}

// NewPlatformWithCentral uses the given central instead of opening the default device
func NewPlatformWithCentral(central Central, chooser device.Chooser, scanWindow time.Duration, logger *logrus.Logger) *Platform {
	if scanWindow <= 0 {
		scanWindow = DefaultScanWindow
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Platform{
		chooser:    chooser,
		scanWindow: scanWindow,
		logger:     logger,
		newCentral: NewCentral,
		central:    central,
	}
}

// Available opens the HCI/CoreBluetooth device once and reports whether it worked
func (p *Platform) Available() error {
	_, err := p.centralOrOpen()
	return err
}

func (p *Platform) centralOrOpen() (Central, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.central != nil {
		return p.central, nil
	}
	c, err := p.newCentral()
	if err != nil {
		p.logger.WithError(err).Error("Failed to open BLE device")
		return nil, fmt.Errorf("%w: %v", device.ErrUnavailable, err)
	}
	p.central = c
	return c, nil
}

// Scanner returns the advertisement source, opening the device if needed.
// go-ble reports advertised services itself, so probe is not used.
func (p *Platform) Scanner(probe ...string) (device.Scanner, error) {
	return p.centralOrOpen()
}

// RequestDevice scans for the scan window and lets the chooser pick one candidate
func (p *Platform) RequestDevice(ctx context.Context, opts device.RequestOptions) (device.Peripheral, error) {
	central, err := p.centralOrOpen()
	if err != nil {
		return nil, err
	}
	if p.chooser == nil {
		return nil, fmt.Errorf("%w: no chooser configured", device.ErrCancelled)
	}

	sc, err := scanner.NewScanner(central, p.logger)
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
	return newPeripheral(central, chosen, p.logger), nil
}

type peripheral struct {
	central Central
	adv     device.Advertisement
	logger  *logrus.Logger

	mu        sync.Mutex
	observers map[int]func()
	nextID    int
}

func newPeripheral(central Central, adv device.Advertisement, logger *logrus.Logger) *peripheral {
	return &peripheral{
		central:   central,
		adv:       adv,
		logger:    logger,
		observers: make(map[int]func()),
	}
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

	p.logger.WithField("address", p.adv.Address).Warn("Link lost")
	for _, fn := range fns {
		fn()
	}
}

func (p *peripheral) Connect(ctx context.Context) (device.Server, error) {
	p.logger.WithField("address", p.adv.Address).Debug("Dialing BLE device...")
	client, err := p.central.Dial(ctx, p.adv.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", p.adv.Address, err)
	}

	s := &server{client: client, peripheral: p, stop: make(chan struct{})}

	// Darwin and the patched linux client expose a disconnect channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				p.fireDisconnect()
			case <-s.stop:
			}
		})
	} else {
		p.logger.Debug("Client does not support Disconnected() channel, link loss is not observed")
	}
	return s, nil
}

// do runs a blocking go-ble call and gives up waiting when ctx ends.
// go-ble has no cancellable GATT calls; an abandoned call ends with its ATT timeout.
func do[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	groutine.Go(ctx, name, func(context.Context) {
		v, err := fn()
		ch <- result{v, err}
	})

	select {
	case r := <-ch:
		return r.v, device.NormalizeError(r.err)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
