package testutils

import (
	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/pkg/flipper"
)

// PeripheralBuilder builds a FakePeripheral and registers it with its platform
type PeripheralBuilder struct {
	platform    *FakePlatform
	p           *FakePeripheral
	lastService *FakeService
	lastChar    *FakeCharacteristic
}

// WithPeripheral starts a new peripheral with the given address and name
func (p *FakePlatform) WithPeripheral(id, name string) *PeripheralBuilder {
	return &PeripheralBuilder{
		platform: p,
		p:        &FakePeripheral{id: id, name: name},
	}
}

// WithFlipper starts a peripheral exposing the complete Flipper serial profile
// (service, write and notify characteristics, CCCD) that advertises the service.
func (p *FakePlatform) WithFlipper(id, name string) *PeripheralBuilder {
	return p.WithPeripheral(id, name).
		Advertising(flipper.ServiceUUID).
		WithService(flipper.ServiceUUID).
		WithCharacteristic(flipper.WriteUUID).
		WithCharacteristic(flipper.NotifyUUID).
		WithDescriptor(flipper.CCCDUUID)
}

// Advertising sets the service UUIDs carried in advertisements
func (b *PeripheralBuilder) Advertising(uuids ...string) *PeripheralBuilder {
	b.p.advertised = append(b.p.advertised, uuids...)
	return b
}

// WithService adds a primary service
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	svc := &FakeService{uuid: uuid}
	b.p.services = append(b.p.services, svc)
	b.lastService = svc
	b.lastChar = nil
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid string) *PeripheralBuilder {
	if b.lastService == nil {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	c := &FakeCharacteristic{uuid: uuid}
	b.lastService.chars = append(b.lastService.chars, c)
	b.lastChar = c
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *PeripheralBuilder) WithDescriptor(uuid string) *PeripheralBuilder {
	if b.lastChar == nil {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	d := &FakeDescriptor{uuid: uuid, parent: b.lastChar}
	b.lastChar.descriptors = append(b.lastChar.descriptors, d)
	return b
}

// WithoutDescriptor removes a descriptor from the characteristic with charUUID
func (b *PeripheralBuilder) WithoutDescriptor(charUUID, uuid string) *PeripheralBuilder {
	c := b.p.Characteristic(charUUID)
	if c == nil {
		panic("WithoutDescriptor: unknown characteristic " + charUUID)
	}
	kept := c.descriptors[:0]
	for _, d := range c.descriptors {
		if !device.SameUUID(d.uuid, uuid) {
			kept = append(kept, d)
		}
	}
	c.descriptors = kept
	return b
}

// FailConnect makes the GATT connect fail
func (b *PeripheralBuilder) FailConnect(err error) *PeripheralBuilder {
	b.p.connectErr = err
	return b
}

// FailStartNotifications makes the standard notification start fail on charUUID
func (b *PeripheralBuilder) FailStartNotifications(charUUID string, err error) *PeripheralBuilder {
	b.char(charUUID).startErr = err
	return b
}

// FailStopNotifications makes StopNotifications fail on charUUID
func (b *PeripheralBuilder) FailStopNotifications(charUUID string, err error) *PeripheralBuilder {
	b.char(charUUID).stopErr = err
	return b
}

// FailWrite makes characteristic writes on charUUID fail
func (b *PeripheralBuilder) FailWrite(charUUID string, err error) *PeripheralBuilder {
	b.char(charUUID).writeErr = err
	return b
}

// FailDescriptorWrite makes writes to the descriptor uuid of charUUID fail
func (b *PeripheralBuilder) FailDescriptorWrite(charUUID, uuid string, err error) *PeripheralBuilder {
	for _, d := range b.char(charUUID).descriptors {
		if device.SameUUID(d.uuid, uuid) {
			d.writeErr = err
			return b
		}
	}
	panic("FailDescriptorWrite: unknown descriptor " + uuid)
}

// Replying makes the peripheral answer a framed line with chunks on the notify characteristic
func (b *PeripheralBuilder) Replying(line string, chunks ...string) *PeripheralBuilder {
	w, n := b.char(flipper.WriteUUID), b.char(flipper.NotifyUUID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.replies == nil {
		w.replies = map[string][]string{}
	}
	w.replies[string(flipper.Frame(line))] = chunks
	w.replyTo = n
	return b
}

// OnPrimaryService runs fn when the primary service lookup starts
func (b *PeripheralBuilder) OnPrimaryService(fn func()) *PeripheralBuilder {
	b.p.beforeService = fn
	return b
}

// Build registers the peripheral with the platform and returns it
func (b *PeripheralBuilder) Build() *FakePeripheral {
	b.platform.add(b.p)
	return b.p
}

func (b *PeripheralBuilder) char(uuid string) *FakeCharacteristic {
	c := b.p.Characteristic(uuid)
	if c == nil {
		panic("unknown characteristic " + uuid)
	}
	return c
}
