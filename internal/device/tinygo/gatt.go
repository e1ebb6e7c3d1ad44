package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/internal/groutine"
)

type server struct {
	link       Link
	peripheral *peripheral
}

func (s *server) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	found, err := call(ctx, "tinygo-discover-service", func() (bool, error) { return s.link.Service(uuid) }, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	if !found {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return &service{link: s.link, uuid: uuid}, nil
}

// Disconnect closes the link. Link-loss observers are not notified for it.
func (s *server) Disconnect() error {
	p := s.peripheral
	p.platform.links.Del(p.adv.Address)
	if err := s.link.Disconnect(); err != nil {
		p.platform.logger.WithError(err).Warn("BLE device disconnected with errors")
		return device.NormalizeError(err)
	}
	p.platform.logger.Debug("BLE device disconnected")
	return nil
}

type service struct {
	link Link
	uuid string
}

func (s *service) UUID() string { return device.NormalizeUUID(s.uuid) }

func (s *service) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	c, err := call(ctx, "tinygo-discover-characteristic", func() (CharLink, error) { return s.link.Characteristic(s.uuid, uuid) }, nil)
	if err != nil {
		return nil, err
	}
	return &characteristic{char: c, uuid: uuid}, nil
}

type characteristic struct {
	char CharLink
	uuid string

	mu      sync.Mutex
	handler func([]byte)
	enabled bool
}

func (c *characteristic) UUID() string { return device.NormalizeUUID(c.uuid) }

// WriteValue uses write-without-response, the only write tinygo offers on every host
func (c *characteristic) WriteValue(ctx context.Context, data []byte) error {
	_, err := call(ctx, "tinygo-write", func() (int, error) { return c.char.WriteWithoutResponse(data) }, nil)
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

func (c *characteristic) StartNotifications(ctx context.Context) error {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err := call(ctx, "tinygo-enable-notifications", func() (struct{}, error) { return struct{}{}, c.char.EnableNotifications(c.deliver) }, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	return nil
}

// StopNotifications drops delivery; tinygo cannot unsubscribe on every host
func (c *characteristic) StopNotifications(context.Context) error {
	c.SetValueHandler(nil)
	return nil
}

func (c *characteristic) Descriptor(_ context.Context, uuid string) (device.Descriptor, error) {
	return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUID(), uuid}}
}

// call runs a blocking tinygo call on a named goroutine and stops waiting when
// ctx ends. A successful result that arrives after that goes to abandon, if set.
func call[T any](ctx context.Context, name string, fn func() (T, error), abandon func(T)) (T, error) {
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
		if abandon != nil {
			groutine.Go(context.WithoutCancel(ctx), name+"-abandon", func(context.Context) {
				if r := <-ch; r.err == nil {
					abandon(r.v)
				}
			})
		}
		var zero T
		return zero, ctx.Err()
	}
}
