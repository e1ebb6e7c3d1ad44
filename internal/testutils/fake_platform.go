package testutils

import (
	"context"
	"sync"

	"github.com/srg/flipble/internal/device"
)

// FakePlatform is an in-memory device.Platform. Peripherals are added with
// WithPeripheral; RequestDevice offers the ones matching the request filter.
type FakePlatform struct {
	mu          sync.Mutex
	Unavailable error
	RequestErr  error
	Chooser     device.Chooser // nil picks the first candidate
	peripherals []*FakePeripheral
	Requests    []device.RequestOptions
}

// NewFakePlatform creates an empty platform
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{}
}

func (p *FakePlatform) Available() error {
	return p.Unavailable
}

func (p *FakePlatform) RequestDevice(ctx context.Context, opts device.RequestOptions) (device.Peripheral, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, opts)
	reqErr := p.RequestErr
	chooser := p.Chooser
	byAddr := make(map[string]*FakePeripheral, len(p.peripherals))
	var candidates []device.Advertisement
	for _, fp := range p.peripherals {
		adv := fp.Advertisement()
		if opts.Matches(adv) {
			candidates = append(candidates, adv)
			byAddr[adv.Address] = fp
		}
	}
	p.mu.Unlock()

	if reqErr != nil {
		return nil, reqErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, device.ErrNoDevice
	}
	if chooser == nil {
		return byAddr[candidates[0].Address], nil
	}
	chosen, err := chooser.Choose(ctx, candidates)
	if err != nil {
		return nil, err
	}
	fp, ok := byAddr[chosen.Address]
	if !ok {
		return nil, device.ErrNoDevice
	}
	return fp, nil
}

// Scanner reports every registered peripheral once, then waits for ctx.
// probe is accepted for signature parity with the backends and ignored.
func (p *FakePlatform) Scanner(probe ...string) (device.Scanner, error) {
	if p.Unavailable != nil {
		return nil, p.Unavailable
	}
	return fakeScanner{p}, nil
}

type fakeScanner struct {
	p *FakePlatform
}

func (s fakeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	s.p.mu.Lock()
	ads := make([]device.Advertisement, 0, len(s.p.peripherals))
	for _, fp := range s.p.peripherals {
		ads = append(ads, fp.Advertisement())
	}
	s.p.mu.Unlock()

	for _, adv := range ads {
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// RequestCount returns how many times RequestDevice was called
func (p *FakePlatform) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

func (p *FakePlatform) add(fp *FakePeripheral) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peripherals = append(p.peripherals, fp)
}

// FakePeripheral is a scripted GATT peripheral
type FakePeripheral struct {
	mu         sync.Mutex
	id         string
	name       string
	advertised []string
	services   []*FakeService
	connectErr error
	observers  map[int]func()
	nextObsID  int
	connected  bool

	Connects    int
	Disconnects int

	beforeService func()
}

func (fp *FakePeripheral) ID() string   { return fp.id }
func (fp *FakePeripheral) Name() string { return fp.name }

// Advertisement returns what a scan would report for this peripheral
func (fp *FakePeripheral) Advertisement() device.Advertisement {
	services := make([]string, 0, len(fp.advertised))
	for _, s := range fp.advertised {
		services = append(services, device.NormalizeUUID(s))
	}
	return device.Advertisement{
		Address:     fp.id,
		Name:        fp.name,
		RSSI:        -50,
		Services:    services,
		Connectable: true,
	}
}

func (fp *FakePeripheral) OnDisconnect(fn func()) func() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.observers == nil {
		fp.observers = make(map[int]func())
	}
	fp.nextObsID++
	id := fp.nextObsID
	fp.observers[id] = fn
	return func() {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		delete(fp.observers, id)
	}
}

// ObserverCount returns the number of registered disconnect observers
func (fp *FakePeripheral) ObserverCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.observers)
}

func (fp *FakePeripheral) Connect(ctx context.Context) (device.Server, error) {
	fp.mu.Lock()
	fp.Connects++
	connectErr := fp.connectErr
	fp.mu.Unlock()

	if connectErr != nil {
		return nil, connectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fp.mu.Lock()
	fp.connected = true
	fp.mu.Unlock()
	return &fakeServer{peripheral: fp}, nil
}

// IsConnected reports whether the GATT link is open
func (fp *FakePeripheral) IsConnected() bool {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.connected
}

// SimulateDisconnect drops the link and fires the disconnect observers
func (fp *FakePeripheral) SimulateDisconnect() {
	fp.mu.Lock()
	fp.connected = false
	observers := make([]func(), 0, len(fp.observers))
	for _, fn := range fp.observers {
		observers = append(observers, fn)
	}
	fp.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// Characteristic returns the scripted characteristic, nil when absent
func (fp *FakePeripheral) Characteristic(uuid string) *FakeCharacteristic {
	for _, s := range fp.services {
		for _, c := range s.chars {
			if device.SameUUID(c.uuid, uuid) {
				return c
			}
		}
	}
	return nil
}

type fakeServer struct {
	peripheral *FakePeripheral
}

func (s *fakeServer) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	if hook := s.peripheral.beforeService; hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, svc := range s.peripheral.services {
		if device.SameUUID(svc.uuid, uuid) {
			return svc, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (s *fakeServer) Disconnect() error {
	fp := s.peripheral
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.connected = false
	fp.Disconnects++
	return nil
}

// FakeService is a scripted primary service
type FakeService struct {
	uuid  string
	chars []*FakeCharacteristic
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, c := range s.chars {
		if device.SameUUID(c.uuid, uuid) {
			return c, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
}

// FakeCharacteristic records writes and delivers notifications once armed
type FakeCharacteristic struct {
	mu          sync.Mutex
	uuid        string
	handler     func([]byte)
	notifying   bool
	descriptors []*FakeDescriptor
	writes      [][]byte

	startErr error
	stopErr  error
	writeErr error

	replies map[string][]string // written payload -> chunks notified on replyTo
	replyTo *FakeCharacteristic

	StartCalls int
	StopCalls  int
}

func (c *FakeCharacteristic) UUID() string { return c.uuid }

func (c *FakeCharacteristic) WriteValue(ctx context.Context, data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		c.mu.Unlock()
		return c.writeErr
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	chunks, target := c.replies[string(data)], c.replyTo
	c.mu.Unlock()

	if len(chunks) > 0 && target != nil {
		go func() {
			for _, chunk := range chunks {
				target.Notify([]byte(chunk))
			}
		}()
	}
	return nil
}

func (c *FakeCharacteristic) SetValueHandler(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *FakeCharacteristic) StartNotifications(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCalls++
	if c.startErr != nil {
		return c.startErr
	}
	c.notifying = true
	return nil
}

func (c *FakeCharacteristic) StopNotifications(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCalls++
	c.notifying = false
	return c.stopErr
}

func (c *FakeCharacteristic) Descriptor(ctx context.Context, uuid string) (device.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.descriptors {
		if device.SameUUID(d.uuid, uuid) {
			return d, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.uuid, uuid}}
}

// Notify delivers data to the handler if notifications are armed.
// Returns false when nothing would have received it.
func (c *FakeCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	handler, armed := c.handler, c.notifying
	c.mu.Unlock()
	if handler == nil || !armed {
		return false
	}
	handler(data)
	return true
}

// Writes returns a copy of all payloads written so far
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// HasHandler reports whether a value handler is installed
func (c *FakeCharacteristic) HasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// IsNotifying reports whether notifications are armed
func (c *FakeCharacteristic) IsNotifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// FakeDescriptor records writes. A 0x0001 write to the CCCD arms its characteristic.
type FakeDescriptor struct {
	uuid     string
	parent   *FakeCharacteristic
	writeErr error

	mu     sync.Mutex
	writes [][]byte
}

func (d *FakeDescriptor) UUID() string { return d.uuid }

func (d *FakeDescriptor) WriteValue(ctx context.Context, data []byte) error {
	if d.writeErr != nil {
		return d.writeErr
	}
	d.mu.Lock()
	d.writes = append(d.writes, append([]byte(nil), data...))
	d.mu.Unlock()

	if device.SameUUID(d.uuid, "2902") && len(data) == 2 && data[0]&0x01 != 0 {
		d.parent.mu.Lock()
		d.parent.notifying = true
		d.parent.mu.Unlock()
	}
	return nil
}

// Writes returns a copy of all payloads written so far
func (d *FakeDescriptor) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	copy(out, d.writes)
	return out
}
