package flipper

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/device"
)

// activate arms inbound delivery on the notify characteristic with the given
// strategy and returns the variant that succeeded. The value handler must be
// installed by the caller beforehand.
func activate(ctx context.Context, strategy ActivationStrategy, notify device.Characteristic, logger *logrus.Logger) (ActivationStrategy, error) {
	switch strategy {
	case ActivationStandard:
		return ActivationStandard, activateStandard(ctx, notify)
	case ActivationDescriptor:
		return ActivationDescriptor, activateDescriptor(ctx, notify)
	case ActivationAuto:
		stdErr := activateStandard(ctx, notify)
		if stdErr == nil {
			return ActivationStandard, nil
		}
		// a dead link or an abandoned attempt will not be rescued by the descriptor write
		if ctx.Err() != nil || errors.Is(stdErr, device.ErrDisconnected) {
			return ActivationStandard, stdErr
		}
		logger.WithFields(logrus.Fields{
			"uuid":  notify.UUID(),
			"error": stdErr,
		}).Warn("Standard notification start failed, falling back to CCCD write")

		if descErr := activateDescriptor(ctx, notify); descErr != nil {
			return ActivationDescriptor, fmt.Errorf("standard: %v; descriptor: %w", stdErr, descErr)
		}
		return ActivationDescriptor, nil
	default:
		return strategy, fmt.Errorf("unknown activation strategy %q", strategy)
	}
}

func activateStandard(ctx context.Context, notify device.Characteristic) error {
	return notify.StartNotifications(ctx)
}

func activateDescriptor(ctx context.Context, notify device.Characteristic) error {
	cccd, err := notify.Descriptor(ctx, CCCDUUID)
	if err != nil {
		return &Error{Kind: KindNotificationUnsupported, Op: stepActivate, Err: err}
	}
	if cccd == nil {
		return &Error{Kind: KindNotificationUnsupported, Op: stepActivate,
			Err: &device.NotFoundError{Resource: "descriptor", UUIDs: []string{notify.UUID(), CCCDUUID}}}
	}
	return cccd.WriteValue(ctx, cccdEnableNotify)
}
