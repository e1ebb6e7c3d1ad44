package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs, parent first (e.g., [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// IsNotFound reports whether err is a NotFoundError for the given resource.
// An empty resource matches any NotFoundError.
func IsNotFound(err error, resource string) bool {
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	return resource == "" || nf.Resource == resource
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	LinkLost         ConnectionState = "link_lost"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Connection state sentinels
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrDisconnected     = &ConnectionError{State: LinkLost}
)

// Platform error sentinels. Backends wrap library errors with these so the
// transport can classify failures without knowing the library.
var (
	ErrUnavailable  = errors.New("bluetooth LE unavailable")
	ErrCancelled    = errors.New("device selection cancelled")
	ErrNoDevice     = errors.New("no matching device found")
	ErrNotSupported = errors.New("operation not supported")
	ErrBlocked      = errors.New("operation blocked by the bluetooth stack")
	ErrNetwork      = errors.New("gatt operation failed")
)

// NormalizeError maps known BLE library error strings to the sentinels above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	// already classified
	for _, known := range []error{ErrUnavailable, ErrCancelled, ErrNoDevice, ErrNotSupported,
		ErrBlocked, ErrNetwork, ErrNotConnected, ErrAlreadyConnected, ErrDisconnected} {
		if errors.Is(err, known) {
			return err
		}
	}
	if IsNotFound(err, "") {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "adapter not found"),
		containsIgnoreCase(msg, "not implemented on this platform"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "connection lost"),
		containsIgnoreCase(msg, "remote user terminated"):
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	case containsIgnoreCase(msg, "not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "insufficient"):
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	case containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", ErrNotSupported, err)
	case containsIgnoreCase(msg, "att error"),
		containsIgnoreCase(msg, "gatt"),
		containsIgnoreCase(msg, "in progress"):
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
