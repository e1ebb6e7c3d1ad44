package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type          DeviceEventType
	Advertisement device.Advertisement
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	Request         device.RequestOptions
	AllowList       []string
	BlockList       []string
	// StopWhen ends the scan early once an accepted advertisement satisfies it
	StopWhen func(device.Advertisement) bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        5 * time.Second,
		DuplicateFilter: true,
		Request:         device.RequestOptions{AcceptAll: true},
	}
}

// Scanner collects advertisements from a backend source
type Scanner struct {
	source  device.Scanner
	devices *hashmap.Map[string, device.Advertisement]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
}

// NewScanner creates a scanner reading from source
func NewScanner(source device.Scanner, logger *logrus.Logger) (*Scanner, error) {
	if source == nil {
		return nil, fmt.Errorf("scan source is required")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Scanner{
		source:  source,
		devices: hashmap.New[string, device.Advertisement](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
	}, nil
}

// Scan performs discovery and returns the accepted devices, strongest signal first
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]device.Advertisement, error) {
	s.devices = hashmap.New[string, device.Advertisement]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	s.logger.WithFields(logrus.Fields{
		"duration":   opts.Duration,
		"accept_all": opts.Request.AcceptAll,
		"services":   opts.Request.Services,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		var cancelTimeout context.CancelFunc
		scanCtx, cancelTimeout = context.WithTimeout(scanCtx, opts.Duration)
		defer cancelTimeout()
	}

	err := s.source.Scan(scanCtx, !opts.DuplicateFilter, func(adv device.Advertisement) {
		if s.handleAdvertisement(adv, opts) && opts.StopWhen != nil && opts.StopWhen(adv) {
			s.logger.WithField("address", adv.Address).Debug("Scan target found, stopping early")
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}
	// the parent ctx ending is the caller's cancel, not a normal scan stop
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.sorted(), nil
}

// handleAdvertisement updates existing or adds a new device; reports whether it was accepted
func (s *Scanner) handleAdvertisement(adv device.Advertisement, opts *ScanOptions) bool {
	if adv.Address == "" {
		return false
	}

	prev, existing := s.devices.Get(adv.Address)
	if !existing && !s.shouldIncludeDevice(adv, opts) {
		return false
	}
	if existing {
		adv = merge(prev, adv)
	}
	s.devices.Set(adv.Address, adv)

	event := DeviceEvent{Type: EventUpdated, Advertisement: adv}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  adv.DisplayName(),
			"address": adv.Address,
			"rssi":    adv.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}
	s.events.Send(event)
	return true
}

// merge keeps fields that later advertisements (e.g. scan responses) may omit
func merge(prev, next device.Advertisement) device.Advertisement {
	if next.Name == "" {
		next.Name = prev.Name
	}
	seen := make(map[string]struct{}, len(next.Services))
	for _, u := range next.Services {
		seen[device.NormalizeUUID(u)] = struct{}{}
	}
	for _, u := range prev.Services {
		if _, ok := seen[device.NormalizeUUID(u)]; !ok {
			next.Services = append(next.Services, u)
		}
	}
	next.Connectable = next.Connectable || prev.Connectable
	return next
}

// shouldIncludeDevice applies the allow/block lists and the request filter
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if adv.Address == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if adv.Address == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return opts.Request.Matches(adv)
}

func (s *Scanner) sorted() []device.Advertisement {
	devs := make([]device.Advertisement, 0, s.devices.Len())
	s.devices.Range(func(_ string, adv device.Advertisement) bool {
		devs = append(devs, adv)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

// Ordered returns the scan result keyed by address, strongest signal first.
// The map marshals to a JSON object that keeps this order.
func Ordered(devs []device.Advertisement) *orderedmap.OrderedMap[string, device.Advertisement] {
	om := orderedmap.New[string, device.Advertisement](len(devs))
	for _, d := range devs {
		om.Set(d.Address, d)
	}
	return om
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
