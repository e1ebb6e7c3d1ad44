package flipper

import (
	"fmt"
	"time"

	"github.com/srg/flipble/internal/device"
)

// DiscoveryPolicy selects how the device chooser is populated
type DiscoveryPolicy string

const (
	// DiscoveryBroad offers every peripheral; a wrong pick surfaces as ServiceNotFound.
	DiscoveryBroad DiscoveryPolicy = "broad"
	// DiscoveryFiltered offers only peripherals advertising the serial service.
	DiscoveryFiltered DiscoveryPolicy = "filtered"
)

// ActivationStrategy selects how notifications are armed on the notify characteristic
type ActivationStrategy string

const (
	// ActivationStandard uses the platform's start-notifications primitive.
	ActivationStandard ActivationStrategy = "standard"
	// ActivationDescriptor writes 0x0001 to the CCCD directly.
	ActivationDescriptor ActivationStrategy = "descriptor"
	// ActivationAuto tries standard first and falls back to the descriptor write.
	ActivationAuto ActivationStrategy = "auto"
)

// SettlePoint selects where the settle delay is applied during connect
type SettlePoint string

const (
	SettleAfterResolve  SettlePoint = "resolve"
	SettleAfterActivate SettlePoint = "activate"
)

// Options configures a Transport
type Options struct {
	Discovery   DiscoveryPolicy
	Activation  ActivationStrategy
	SettleDelay time.Duration // zero disables the pause
	SettlePoint SettlePoint
	WakeUp      bool          // send an empty line once connected
	StepTimeout time.Duration // per suspension point after device selection, zero means no timeout
}

// DefaultOptions returns the defaults used by the CLI when nothing is configured
func DefaultOptions() Options {
	return Options{
		Discovery:   DiscoveryBroad,
		Activation:  ActivationAuto,
		SettleDelay: 100 * time.Millisecond,
		SettlePoint: SettleAfterResolve,
		WakeUp:      true,
	}
}

// Validate rejects unknown enum values
func (o Options) Validate() error {
	switch o.Discovery {
	case DiscoveryBroad, DiscoveryFiltered:
	default:
		return fmt.Errorf("invalid discovery policy %q (must be broad or filtered)", o.Discovery)
	}
	switch o.Activation {
	case ActivationStandard, ActivationDescriptor, ActivationAuto:
	default:
		return fmt.Errorf("invalid activation strategy %q (must be standard, descriptor or auto)", o.Activation)
	}
	switch o.SettlePoint {
	case SettleAfterResolve, SettleAfterActivate:
	default:
		return fmt.Errorf("invalid settle point %q (must be resolve or activate)", o.SettlePoint)
	}
	if o.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative: %s", o.SettleDelay)
	}
	if o.StepTimeout < 0 {
		return fmt.Errorf("step timeout must not be negative: %s", o.StepTimeout)
	}
	return nil
}

// requestOptions translates the discovery policy into a chooser request
func (o Options) requestOptions() device.RequestOptions {
	if o.Discovery == DiscoveryFiltered {
		return device.RequestOptions{Services: []string{ServiceUUID}}
	}
	return device.RequestOptions{AcceptAll: true, OptionalServices: []string{ServiceUUID}}
}
