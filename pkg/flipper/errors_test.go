package flipper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/flipble/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	notFound := &device.NotFoundError{Resource: "service", UUIDs: []string{ServiceUUID}}

	tests := []struct {
		name string
		step string
		err  error
		want Kind
	}{
		{"capability step", stepCapability, errors.New("no adapter"), KindCapabilityUnavailable},
		{"unavailable at any step", stepGATT, fmt.Errorf("open: %w", device.ErrUnavailable), KindCapabilityUnavailable},
		{"chooser cancelled", stepRequest, device.ErrCancelled, KindDeviceSelectionFailed},
		{"nothing found", stepRequest, device.ErrNoDevice, KindDeviceSelectionFailed},
		{"gatt blocked", stepGATT, device.ErrBlocked, KindPlatformBlocked},
		{"gatt network", stepGATT, device.ErrNetwork, KindPlatformBlocked},
		{"gatt unknown", stepGATT, errors.New("boom"), KindPlatformBlocked},
		{"service missing", stepService, notFound, KindServiceNotFound},
		{"characteristic missing", stepCharacteristic,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{ServiceUUID, WriteUUID}}, KindServiceNotFound},
		{"service lookup blocked", stepService, device.ErrBlocked, KindPlatformBlocked},
		{"link lost while resolving", stepService, device.ErrDisconnected, KindPlatformBlocked},
		{"activation rejected", stepActivate, device.ErrNotSupported, KindNotificationUnsupported},
		{"link lost while activating", stepActivate, device.ErrDisconnected, KindPlatformBlocked},
		{"already classified", stepGATT, &Error{Kind: KindNotificationUnsupported}, KindNotificationUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.step, tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err, "cause MUST stay reachable")
		})
	}
}

func TestErrorIsByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindServiceNotFound, Op: stepService, Err: errors.New("x")})

	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.NotErrorIs(t, err, ErrPlatformBlocked)
	assert.Equal(t, KindServiceNotFound, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("foreign")))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "not_connected", (&Error{Kind: KindNotConnected}).Error())
	assert.Equal(t, "send: transmit_failed: att error",
		(&Error{Kind: KindTransmitFailed, Op: "send", Err: errors.New("att error")}).Error())
}

func TestHints(t *testing.T) {
	assert.Contains(t, Hint(KindServiceNotFound), "Wrong device")
	assert.Contains(t, Hint(KindPlatformBlocked), "cache")
	assert.Empty(t, Hint(KindTransmitFailed))
	assert.Equal(t, Hint(KindDeviceSelectionFailed), ErrDeviceSelectionFailed.Hint())
}

func TestCauseOf(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(device.ErrDisconnected)

	err := causeOf(ctx, context.Canceled)
	assert.ErrorIs(t, err, device.ErrDisconnected, "cancellation cause MUST be surfaced")

	plain := errors.New("plain")
	assert.Same(t, plain, causeOf(ctx, plain), "non-context errors MUST pass through")
	assert.NoError(t, causeOf(ctx, nil))
}

func TestFrame(t *testing.T) {
	assert.Equal(t, []byte("LED\r"), Frame("LED"))
	assert.Equal(t, []byte{0x0d}, Frame(""), "empty line MUST be a single CR")
	assert.Equal(t, []byte{0x01, 0x00}, cccdEnableNotify)
}
