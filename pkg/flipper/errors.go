package flipper

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/flipble/internal/device"
)

// Kind classifies transport failures
type Kind string

const (
	KindCapabilityUnavailable   Kind = "capability_unavailable"
	KindDeviceSelectionFailed   Kind = "device_selection_failed"
	KindServiceNotFound         Kind = "service_not_found"
	KindNotificationUnsupported Kind = "notification_unsupported"
	KindPlatformBlocked         Kind = "platform_blocked"
	KindNotConnected            Kind = "not_connected"
	KindTransmitFailed          Kind = "transmit_failed"
	KindAlreadyConnected        Kind = "already_connected"
)

// Error is a classified transport failure
type Error struct {
	Kind Kind
	Op   string // connect step or "send"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Hint returns the remediation text for the error kind, "" when there is none
func (e *Error) Hint() string {
	if e == nil {
		return ""
	}
	return Hint(e.Kind)
}

// Sentinels for errors.Is checks
var (
	ErrCapabilityUnavailable   = &Error{Kind: KindCapabilityUnavailable}
	ErrDeviceSelectionFailed   = &Error{Kind: KindDeviceSelectionFailed}
	ErrServiceNotFound         = &Error{Kind: KindServiceNotFound}
	ErrNotificationUnsupported = &Error{Kind: KindNotificationUnsupported}
	ErrPlatformBlocked         = &Error{Kind: KindPlatformBlocked}
	ErrNotConnected            = &Error{Kind: KindNotConnected}
	ErrTransmitFailed          = &Error{Kind: KindTransmitFailed}
	ErrAlreadyConnected        = &Error{Kind: KindAlreadyConnected}
)

// KindOf extracts the kind of a transport error, "" for foreign errors
func KindOf(err error) Kind {
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Kind
	}
	return ""
}

// Hint returns the remediation text for a kind
func Hint(kind Kind) string {
	switch kind {
	case KindCapabilityUnavailable:
		return "Bluetooth LE is not available on this host or the adapter is switched off."
	case KindDeviceSelectionFailed:
		return "No device was selected. Run connect again and pick the Flipper."
	case KindServiceNotFound:
		return "Wrong device? The selected peripheral does not expose the Flipper serial service. Pick the Flipper and connect again."
	case KindNotificationUnsupported:
		return "Notifications could not be enabled. Try another --activation strategy, or forget the Flipper in the OS Bluetooth settings and pair again."
	case KindPlatformBlocked:
		return "Bluetooth cache error suspected. Forget the Flipper in the OS Bluetooth settings, restart Bluetooth and close other apps using the device."
	case KindNotConnected:
		return "Connect to the Flipper first."
	case KindAlreadyConnected:
		return "Disconnect before starting a new connection."
	default:
		return ""
	}
}

// connect steps, used as Error.Op
const (
	stepCapability     = "capability"
	stepRequest        = "request device"
	stepGATT           = "gatt connect"
	stepService        = "resolve service"
	stepCharacteristic = "resolve characteristic"
	stepActivate       = "activate notifications"
	stepSettle         = "settle"
)

// classify maps a platform failure during a connect step to a transport error
func classify(step string, err error) *Error {
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr
	}

	kind := KindPlatformBlocked
	switch {
	case errors.Is(err, device.ErrUnavailable):
		kind = KindCapabilityUnavailable
	case step == stepCapability:
		kind = KindCapabilityUnavailable
	case step == stepRequest:
		kind = KindDeviceSelectionFailed
	case errors.Is(err, device.ErrBlocked),
		errors.Is(err, device.ErrNetwork),
		errors.Is(err, device.ErrDisconnected):
		kind = KindPlatformBlocked
	case step == stepService || step == stepCharacteristic:
		if device.IsNotFound(err, "") {
			kind = KindServiceNotFound
		}
	case step == stepActivate:
		kind = KindNotificationUnsupported
	}
	return &Error{Kind: kind, Op: step, Err: err}
}

// causeOf prefers the cancellation cause over the bare context error
func causeOf(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w (%v)", cause, err)
	}
	return err
}
