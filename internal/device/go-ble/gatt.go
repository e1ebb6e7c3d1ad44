package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/device"
)

type server struct {
	client     Client
	peripheral *peripheral
	stop       chan struct{}
	stopOnce   sync.Once
}

func (s *server) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}
	svcs, err := do(ctx, "goble-discover-services", func() ([]*ble.Service, error) {
		return s.client.DiscoverServices([]ble.UUID{u})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, svc := range svcs {
		if svc.UUID.Equal(u) {
			return &service{client: s.client, svc: svc, logger: s.peripheral.logger}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// Disconnect closes the link. Link-loss observers are not notified for it.
func (s *server) Disconnect() error {
	s.stopOnce.Do(func() { close(s.stop) })
	err := s.client.CancelConnection()
	if err != nil {
		s.peripheral.logger.WithError(err).Warn("BLE device disconnected with errors")
		return device.NormalizeError(err)
	}
	s.peripheral.logger.Debug("BLE device disconnected")
	return nil
}

type service struct {
	client Client
	svc    *ble.Service
	logger *logrus.Logger
}

func (s *service) UUID() string { return device.NormalizeUUID(s.svc.UUID.String()) }

func (s *service) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}
	chars, err := do(ctx, "goble-discover-characteristics", func() ([]*ble.Characteristic, error) {
		return s.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}
	for _, c := range chars {
		if c.UUID.Equal(u) {
			return &characteristic{client: s.client, char: c, logger: s.logger}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
}

type characteristic struct {
	client Client
	char   *ble.Characteristic
	logger *logrus.Logger

	mu                    sync.Mutex
	handler               func([]byte)
	subscribed            bool
	descriptorsDiscovered bool
}

func (c *characteristic) UUID() string { return device.NormalizeUUID(c.char.UUID.String()) }

// WriteValue uses write-with-response unless the characteristic only allows write-without-response
func (c *characteristic) WriteValue(ctx context.Context, data []byte) error {
	noRsp := c.char.Property&ble.CharWrite == 0 && c.char.Property&ble.CharWriteNR != 0
	_, err := do(ctx, "goble-write", func() (struct{}, error) {
		return struct{}{}, c.client.WriteCharacteristic(c.char, data, noRsp)
	})
	return err
}

func (c *characteristic) SetValueHandler(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *characteristic) deliver(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *characteristic) indicate() bool {
	return c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
}

func (c *characteristic) StartNotifications(ctx context.Context) error {
	if c.char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("%w: characteristic %s does not notify", device.ErrNotSupported, c.UUID())
	}
	// go-ble subscribes through the CCCD handle found by descriptor discovery
	if err := c.discoverDescriptors(ctx); err != nil {
		return err
	}
	if c.char.CCCD == nil {
		return fmt.Errorf("%w: characteristic %s has no CCCD", device.ErrNotSupported, c.UUID())
	}
	return c.subscribe(ctx)
}

func (c *characteristic) subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err := do(ctx, "goble-subscribe", func() (struct{}, error) {
		return struct{}{}, c.client.Subscribe(c.char, c.indicate(), c.deliver)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	c.logger.WithField("uuid", c.UUID()).Debug("Subscribed to characteristic notifications")
	return nil
}

func (c *characteristic) StopNotifications(ctx context.Context) error {
	c.mu.Lock()
	subscribed := c.subscribed
	c.subscribed = false
	c.mu.Unlock()
	if !subscribed {
		return nil
	}
	_, err := do(ctx, "goble-unsubscribe", func() (struct{}, error) {
		return struct{}{}, c.client.Unsubscribe(c.char, c.indicate())
	})
	return err
}

func (c *characteristic) discoverDescriptors(ctx context.Context) error {
	c.mu.Lock()
	done := c.descriptorsDiscovered
	c.mu.Unlock()
	if done {
		return nil
	}
	_, err := do(ctx, "goble-discover-descriptors", func() ([]*ble.Descriptor, error) {
		return c.client.DiscoverDescriptors(nil, c.char)
	})
	if err != nil {
		return fmt.Errorf("failed to discover descriptors: %w", err)
	}
	c.mu.Lock()
	c.descriptorsDiscovered = true
	c.mu.Unlock()
	return nil
}

func (c *characteristic) Descriptor(ctx context.Context, uuid string) (device.Descriptor, error) {
	if err := c.discoverDescriptors(ctx); err != nil {
		return nil, err
	}
	want := device.NormalizeUUID(uuid)
	for _, d := range c.char.Descriptors {
		if device.NormalizeUUID(d.UUID.String()) == want {
			return &descriptor{char: c, desc: d}, nil
		}
	}
	if want == "2902" && c.char.CCCD != nil {
		return &descriptor{char: c, desc: c.char.CCCD}, nil
	}
	return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUID(), uuid}}
}

type descriptor struct {
	char *characteristic
	desc *ble.Descriptor
}

func (d *descriptor) UUID() string { return device.NormalizeUUID(d.desc.UUID.String()) }

// WriteValue writes the descriptor. An enabling CCCD write also routes incoming
// notifications to the value handler, which go-ble only does for subscribed handles.
func (d *descriptor) WriteValue(ctx context.Context, data []byte) error {
	_, err := do(ctx, "goble-write-descriptor", func() (struct{}, error) {
		return struct{}{}, d.char.client.WriteDescriptor(d.desc, data)
	})
	if err != nil {
		return err
	}
	if d.UUID() != "2902" || len(data) == 0 || data[0]&0x03 == 0 {
		return nil
	}
	if err := d.char.subscribe(ctx); err != nil {
		return fmt.Errorf("%w: CCCD written but notifications cannot be routed: %v", device.ErrNotSupported, err)
	}
	return nil
}
