package main

import (
	"errors"
	"strings"

	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/pkg/flipper"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the Flipper went away while a command was using it.
	// This is distinct from flipper.ErrNotConnected, which is a send attempted
	// before any connection existed.
	ErrConnectionLost = errors.New("connection lost")
)

// reportedError marks an error the presenters already showed to the user
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// FormatUserError renders err for the terminal, adding the remediation hint
// for transport errors.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	hint := flipper.Hint(flipper.KindOf(err))
	switch {
	case hint != "":
	case errors.Is(err, ErrConnectionLost):
		hint = "The Flipper disconnected. Check that it is in range and its Bluetooth is on."
	case errors.Is(err, device.ErrUnavailable):
		hint = flipper.Hint(flipper.KindCapabilityUnavailable)
	}
	if hint == "" {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	b.WriteString("\n  Hint: ")
	b.WriteString(hint)
	return b.String()
}
