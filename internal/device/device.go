package device

import (
	"context"
)

// Advertisement is a backend-neutral view of a received advertising report
type Advertisement struct {
	Address     string   `json:"address"`
	Name        string   `json:"name,omitempty"`
	RSSI        int      `json:"rssi"`
	Services    []string `json:"services,omitempty"` // normalized UUIDs
	Connectable bool     `json:"connectable"`
}

// HasService reports whether the advertisement lists the given service UUID
func (a Advertisement) HasService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, s := range a.Services {
		if NormalizeUUID(s) == want {
			return true
		}
	}
	return false
}

// DisplayName returns the advertised name or the address when the name is empty
func (a Advertisement) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

// RequestOptions mirrors a device chooser request.
//
// With AcceptAll set, every peripheral is offered and OptionalServices only
// declares what the caller intends to access. Otherwise only peripherals
// advertising one of Services are offered.
type RequestOptions struct {
	AcceptAll        bool
	Services         []string
	OptionalServices []string
}

// Matches applies the request filter to an advertisement
func (o RequestOptions) Matches(adv Advertisement) bool {
	if o.AcceptAll {
		return true
	}
	for _, s := range o.Services {
		if adv.HasService(s) {
			return true
		}
	}
	return false
}

// Chooser picks one peripheral out of the scan candidates.
// Returning ErrCancelled means the operator declined to choose.
type Chooser interface {
	Choose(ctx context.Context, candidates []Advertisement) (Advertisement, error)
}

// Targeter is implemented by choosers that know their pick in advance.
// Backends stop scanning as soon as Targets reports true.
type Targeter interface {
	Targets(adv Advertisement) bool
}

// ChooserFunc adapts a function to the Chooser interface
type ChooserFunc func(ctx context.Context, candidates []Advertisement) (Advertisement, error)

func (f ChooserFunc) Choose(ctx context.Context, candidates []Advertisement) (Advertisement, error) {
	return f(ctx, candidates)
}

// Scanner is the advertisement source of a backend. Scan blocks until ctx ends
// and returns nil when it ended because of ctx.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Platform is the entry point of a BLE backend
type Platform interface {
	// Available fails with ErrUnavailable when the host has no usable BLE stack.
	Available() error
	// RequestDevice scans and hands the matching candidates to the chooser.
	RequestDevice(ctx context.Context, opts RequestOptions) (Peripheral, error)
}

// Peripheral is a chosen device. It is not connected until Connect succeeds.
type Peripheral interface {
	ID() string
	Name() string
	// OnDisconnect registers fn for link loss and returns a function removing it.
	OnDisconnect(fn func()) (unregister func())
	Connect(ctx context.Context) (Server, error)
}

// Server is an open GATT connection
type Server interface {
	PrimaryService(ctx context.Context, uuid string) (Service, error)
	Disconnect() error
}

// Service is a resolved primary service
type Service interface {
	UUID() string
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// Characteristic is a resolved GATT characteristic.
//
// SetValueHandler only installs or clears the local handler and performs no
// I/O. StartNotifications and a CCCD write are the two ways of arming it.
type Characteristic interface {
	UUID() string
	WriteValue(ctx context.Context, data []byte) error
	SetValueHandler(fn func(data []byte))
	StartNotifications(ctx context.Context) error
	StopNotifications(ctx context.Context) error
	Descriptor(ctx context.Context, uuid string) (Descriptor, error)
}

// Descriptor is a resolved GATT descriptor
type Descriptor interface {
	UUID() string
	WriteValue(ctx context.Context, data []byte) error
}
