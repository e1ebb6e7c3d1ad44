package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/srg/flipble/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDefaultDevice

// Client is the part of ble.Client the backend uses
type Client interface {
	Name() string
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Central scans and dials. It doubles as the scan source for the scanner package.
type Central interface {
	device.Scanner
	Dial(ctx context.Context, address string) (Client, error)
}

// bleCentral adapts a ble.Device to Central
type bleCentral struct {
	dev ble.Device
}

// NewCentral opens the default HCI/CoreBluetooth device
func NewCentral() (Central, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return &bleCentral{dev: dev}, nil
}

func (c *bleCentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(convertAdvertisement(adv))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return device.NormalizeError(err)
}

func (c *bleCentral) Dial(ctx context.Context, address string) (Client, error) {
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return client, nil
}

func convertAdvertisement(adv ble.Advertisement) device.Advertisement {
	out := device.Advertisement{
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
	if addr := adv.Addr(); addr != nil {
		out.Address = addr.String()
	}
	for _, group := range [][]ble.UUID{adv.Services(), adv.OverflowService()} {
		for _, u := range group {
			if n := device.NormalizeUUID(u.String()); n != "" {
				out.Services = append(out.Services, n)
			}
		}
	}
	return out
}
