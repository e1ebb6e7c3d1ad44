package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/flipble/internal/device"
	"tinygo.org/x/bluetooth"
)

// Radio is the part of the tinygo adapter the backend drives
type Radio interface {
	Enable() error
	// Scan reports advertisements until ctx ends. probe lists the service
	// UUIDs checked against each advertisement.
	Scan(ctx context.Context, probe []string, handler func(device.Advertisement)) error
	Connect(ctx context.Context, address string) (Link, error)
	// SetDisconnectHandler installs the adapter-wide link loss callback
	SetDisconnectHandler(fn func(address string))
}

// Link is one open GATT connection
type Link interface {
	// Service reports whether the primary service uuid exists
	Service(uuid string) (bool, error)
	Characteristic(serviceUUID, charUUID string) (CharLink, error)
	Disconnect() error
}

// CharLink is one discovered characteristic
type CharLink interface {
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
}

type bluetoothRadio struct {
	adapter *bluetooth.Adapter
}

// NewRadio wraps the default tinygo adapter.
// On macOS addresses are CoreBluetooth UUIDs, not MAC addresses.
func NewRadio() Radio {
	return &bluetoothRadio{adapter: bluetooth.DefaultAdapter}
}

func (r *bluetoothRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *bluetoothRadio) SetDisconnectHandler(fn func(address string)) {
	r.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		fn(d.Address.String())
	})
}

func (r *bluetoothRadio) Scan(ctx context.Context, probe []string, handler func(device.Advertisement)) error {
	uuids := make([]bluetooth.UUID, 0, len(probe))
	for _, p := range probe {
		u, err := bluetooth.ParseUUID(p)
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", p, err)
		}
		uuids = append(uuids, u)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = r.adapter.StopScan()
		case <-done:
		}
	}()

	err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := device.Advertisement{
			Address:     result.Address.String(),
			Name:        result.LocalName(),
			RSSI:        int(result.RSSI),
			Connectable: true,
		}
		for i, u := range uuids {
			if result.HasServiceUUID(u) {
				adv.Services = append(adv.Services, device.NormalizeUUID(probe[i]))
			}
		}
		handler(adv)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return device.NormalizeError(err)
	}
	return nil
}

func (r *bluetoothRadio) Connect(ctx context.Context, address string) (Link, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// adapter.Connect blocks with its own timeout and cannot be cancelled;
	// a link that completes after ctx ended is closed so it does not hold the device
	return call(ctx, "tinygo-connect", func() (Link, error) {
		dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			return nil, err
		}
		return &bluetoothLink{dev: dev, services: make(map[string]bluetooth.DeviceService)}, nil
	}, func(l Link) {
		_ = l.Disconnect()
	})
}

type bluetoothLink struct {
	dev bluetooth.Device

	mu       sync.Mutex
	services map[string]bluetooth.DeviceService
}

func (l *bluetoothLink) service(uuid string) (*bluetooth.DeviceService, error) {
	key := device.NormalizeUUID(uuid)
	l.mu.Lock()
	defer l.mu.Unlock()
	if svc, ok := l.services[key]; ok {
		return &svc, nil
	}

	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}
	svcs, err := l.dev.DiscoverServices([]bluetooth.UUID{u})
	if err != nil {
		// a filtered discovery reports a missing service as "could not find" / "did not find"
		if strings.Contains(err.Error(), "find") {
			return nil, nil
		}
		return nil, device.NormalizeError(err)
	}
	if len(svcs) == 0 {
		return nil, nil
	}
	l.services[key] = svcs[0]
	return &svcs[0], nil
}

func (l *bluetoothLink) Service(uuid string) (bool, error) {
	svc, err := l.service(uuid)
	if err != nil {
		return false, err
	}
	return svc != nil, nil
}

func (l *bluetoothLink) Characteristic(serviceUUID, charUUID string) (CharLink, error) {
	svc, err := l.service(serviceUUID)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}
	u, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUUID, err)
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil && !strings.Contains(err.Error(), "find") {
		return nil, device.NormalizeError(err)
	}
	if len(chars) == 0 {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return &chars[0], nil
}

func (l *bluetoothLink) Disconnect() error {
	return l.dev.Disconnect()
}
