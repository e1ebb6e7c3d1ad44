package flipper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/internal/testutils"
	"github.com/srg/flipble/pkg/flipper"
	"github.com/stretchr/testify/suite"
)

const flipperAddr = "80:E1:26:00:00:01"

type TransportTestSuite struct {
	suite.Suite

	platform  *testutils.FakePlatform
	presenter *testutils.RecordingPresenter
	opts      flipper.Options
}

func (s *TransportTestSuite) SetupTest() {
	s.platform = testutils.NewFakePlatform()
	s.presenter = &testutils.RecordingPresenter{}
	s.opts = flipper.DefaultOptions()
	s.opts.SettleDelay = 0
}

func (s *TransportTestSuite) newTransport() *flipper.Transport {
	t, err := flipper.NewTransport(s.platform, s.presenter, s.opts, testutils.NewTestLogger(s.T()))
	s.Require().NoError(err, "MUST create transport")
	return t
}

func (s *TransportTestSuite) connected() *flipper.Transport {
	t := s.newTransport()
	s.Require().NoError(t.Connect(context.Background()), "MUST connect to the Flipper")
	s.Require().Equal(flipper.StateConnected, t.State(), "state MUST be connected")
	return t
}

func (s *TransportTestSuite) TestConnect() {
	// GOAL: Verify the happy path binds both characteristics, arms notifications and sends the wake-up line
	//
	// TEST SCENARIO: Flipper profile present → connect → Connected, handler armed, one "\r" written

	fp := s.platform.WithFlipper(flipperAddr, "Flipper Tinker").Build()
	t := s.connected()

	write := fp.Characteristic(flipper.WriteUUID)
	notify := fp.Characteristic(flipper.NotifyUUID)

	s.Assert().Equal("Flipper Tinker", t.DeviceName(), "device name MUST be reported")
	s.Assert().Equal(flipper.ActivationStandard, t.Activation(), "standard activation MUST be used first")
	s.Assert().True(notify.HasHandler(), "inbound handler MUST be installed")
	s.Assert().True(notify.IsNotifying(), "notifications MUST be armed")
	s.Assert().Equal([][]byte{[]byte("\r")}, write.Writes(), "wake-up MUST be exactly one carriage return")
	s.Assert().Equal(1, fp.ObserverCount(), "exactly one disconnect observer MUST be registered")
	s.Assert().Equal([]bool{true}, s.presenter.States(), "presenter MUST see one connected update")
	s.Assert().Contains(s.presenter.Messages(flipper.TagInfo), "Device selected: Flipper Tinker")
}

func (s *TransportTestSuite) TestConnectWithoutWakeUp() {
	// GOAL: Verify the wake-up line can be disabled
	//
	// TEST SCENARIO: WakeUp=false → connect → no write issued

	s.opts.WakeUp = false
	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	s.connected()

	s.Assert().Empty(fp.Characteristic(flipper.WriteUUID).Writes(), "no write MUST happen without wake-up")
}

func (s *TransportTestSuite) TestDiscoveryPolicies() {
	// GOAL: Verify broad and filtered discovery produce the matching chooser requests
	//
	// TEST SCENARIO: broad → accept-all with optional service; filtered → service filter only

	s.Run("broad", func() {
		s.SetupTest()
		s.platform.WithFlipper(flipperAddr, "Flipper").Build()
		s.connected()

		req := s.platform.Requests[0]
		s.Assert().True(req.AcceptAll, "broad discovery MUST accept all devices")
		s.Assert().Equal([]string{flipper.ServiceUUID}, req.OptionalServices, "service MUST be optional")
	})

	s.Run("filtered skips non advertising devices", func() {
		s.SetupTest()
		s.opts.Discovery = flipper.DiscoveryFiltered
		s.platform.WithPeripheral("11:22:33:44:55:66", "Headphones").WithService("180f").Build()
		s.platform.WithFlipper(flipperAddr, "Flipper").Build()
		t := s.connected()

		req := s.platform.Requests[0]
		s.Assert().False(req.AcceptAll, "filtered discovery MUST NOT accept all devices")
		s.Assert().Equal([]string{flipper.ServiceUUID}, req.Services, "filter MUST name the serial service")
		s.Assert().Equal("Flipper", t.DeviceName(), "filtered chooser MUST only offer the Flipper")
	})
}

func (s *TransportTestSuite) TestWrongDevice() {
	// GOAL: Verify a broad pick without the serial service fails with ServiceNotFound and binds nothing
	//
	// TEST SCENARIO: chooser returns headphones → connect → ServiceNotFound, Disconnected, link closed

	hp := s.platform.WithPeripheral("11:22:33:44:55:66", "Headphones").WithService("180f").Build()
	t := s.newTransport()

	err := t.Connect(context.Background())

	s.Require().Error(err, "connect MUST fail")
	s.Assert().ErrorIs(err, flipper.ErrServiceNotFound, "error MUST be ServiceNotFound")
	s.Assert().Equal(flipper.StateDisconnected, t.State(), "state MUST return to disconnected")
	s.Assert().Empty(t.DeviceName(), "no session MUST remain")
	s.Assert().Equal(0, hp.ObserverCount(), "disconnect observer MUST be removed")
	s.Assert().Equal(1, hp.Disconnects, "GATT link MUST be closed")
	s.Assert().Empty(s.presenter.States(), "no connection update MUST be emitted")
	s.Assert().Contains(s.presenter.Messages(flipper.TagWarn), flipper.Hint(flipper.KindServiceNotFound),
		"wrong-device hint MUST be reported")
}

func (s *TransportTestSuite) TestMissingCharacteristic() {
	// GOAL: Verify a missing notify characteristic fails with ServiceNotFound
	//
	// TEST SCENARIO: service with only the write characteristic → connect → ServiceNotFound

	fp := s.platform.WithPeripheral(flipperAddr, "Flipper").
		WithService(flipper.ServiceUUID).
		WithCharacteristic(flipper.WriteUUID).
		Build()
	t := s.newTransport()

	err := t.Connect(context.Background())

	s.Assert().ErrorIs(err, flipper.ErrServiceNotFound, "error MUST be ServiceNotFound")
	s.Assert().Equal(flipper.StateDisconnected, t.State(), "state MUST be disconnected")
	s.Assert().Empty(fp.Characteristic(flipper.WriteUUID).Writes(), "no write MUST happen")
}

func (s *TransportTestSuite) TestActivationFallback() {
	// GOAL: Verify the descriptor write arms notifications when the standard primitive is rejected
	//
	// TEST SCENARIO: standard start rejected → manual/auto strategy → CCCD written with 0x0001 → Connected

	for _, strategy := range []flipper.ActivationStrategy{flipper.ActivationDescriptor, flipper.ActivationAuto} {
		s.Run(string(strategy), func() {
			s.SetupTest()
			s.opts.Activation = strategy
			fp := s.platform.WithFlipper(flipperAddr, "Flipper").
				FailStartNotifications(flipper.NotifyUUID, device.ErrNotSupported).
				Build()
			t := s.connected()

			notify := fp.Characteristic(flipper.NotifyUUID)
			cccd, err := notify.Descriptor(context.Background(), flipper.CCCDUUID)
			s.Require().NoError(err)

			s.Assert().Equal([][]byte{{0x01, 0x00}}, cccd.(*testutils.FakeDescriptor).Writes(),
				"CCCD MUST receive 0x0001 little-endian")
			s.Assert().Equal(flipper.ActivationDescriptor, t.Activation(), "descriptor variant MUST be reported")
			s.Assert().True(notify.Notify([]byte("hi")), "inbound handler MUST be active")
			s.Assert().Equal([]string{"hi"}, s.presenter.Messages(flipper.TagData))
		})
	}
}

func (s *TransportTestSuite) TestActivationFailure() {
	// GOAL: Verify failed activation leaves no handler behind and reports NotificationUnsupported
	//
	// TEST SCENARIO: each failing variant → connect → NotificationUnsupported, Disconnected, handler cleared

	cases := []struct {
		name     string
		strategy flipper.ActivationStrategy
		build    func(b *testutils.PeripheralBuilder) *testutils.PeripheralBuilder
	}{
		{"descriptor write rejected", flipper.ActivationDescriptor, func(b *testutils.PeripheralBuilder) *testutils.PeripheralBuilder {
			return b.FailDescriptorWrite(flipper.NotifyUUID, flipper.CCCDUUID, errors.New("write rejected"))
		}},
		{"descriptor missing", flipper.ActivationDescriptor, func(b *testutils.PeripheralBuilder) *testutils.PeripheralBuilder {
			return b.WithoutDescriptor(flipper.NotifyUUID, flipper.CCCDUUID)
		}},
		{"standard rejected", flipper.ActivationStandard, func(b *testutils.PeripheralBuilder) *testutils.PeripheralBuilder {
			return b.FailStartNotifications(flipper.NotifyUUID, device.ErrNotSupported)
		}},
		{"both rejected", flipper.ActivationAuto, func(b *testutils.PeripheralBuilder) *testutils.PeripheralBuilder {
			return b.FailStartNotifications(flipper.NotifyUUID, device.ErrNotSupported).
				FailDescriptorWrite(flipper.NotifyUUID, flipper.CCCDUUID, errors.New("write rejected"))
		}},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.opts.Activation = tc.strategy
			fp := tc.build(s.platform.WithFlipper(flipperAddr, "Flipper")).Build()
			t := s.newTransport()

			err := t.Connect(context.Background())

			s.Assert().ErrorIs(err, flipper.ErrNotificationUnsupported, "error MUST be NotificationUnsupported")
			s.Assert().Equal(flipper.StateDisconnected, t.State(), "state MUST be disconnected")
			s.Assert().False(fp.Characteristic(flipper.NotifyUUID).HasHandler(), "no inbound handler MUST remain")
			s.Assert().Equal(0, fp.ObserverCount(), "disconnect observer MUST be removed")
			s.Assert().False(fp.IsConnected(), "GATT link MUST be closed")
		})
	}
}

func (s *TransportTestSuite) TestPlatformBlocked() {
	// GOAL: Verify stack rejections map to PlatformBlocked with the cache hint
	//
	// TEST SCENARIO: GATT connect rejected with ErrBlocked → PlatformBlocked

	s.platform.WithFlipper(flipperAddr, "Flipper").FailConnect(device.ErrBlocked).Build()
	t := s.newTransport()

	err := t.Connect(context.Background())

	s.Assert().ErrorIs(err, flipper.ErrPlatformBlocked, "error MUST be PlatformBlocked")
	s.Assert().Contains(s.presenter.Messages(flipper.TagWarn), flipper.Hint(flipper.KindPlatformBlocked))
}

func (s *TransportTestSuite) TestCapabilityUnavailable() {
	// GOAL: Verify a missing BLE stack fails immediately without discovery
	//
	// TEST SCENARIO: platform unavailable → connect → CapabilityUnavailable, no device request

	s.platform.Unavailable = device.ErrUnavailable
	t := s.newTransport()

	err := t.Connect(context.Background())

	s.Assert().ErrorIs(err, flipper.ErrCapabilityUnavailable, "error MUST be CapabilityUnavailable")
	s.Assert().Equal(0, s.platform.RequestCount(), "no device request MUST be made")
	s.Assert().Equal(flipper.StateDisconnected, t.State())
}

func (s *TransportTestSuite) TestDeviceSelectionFailed() {
	// GOAL: Verify chooser cancel and an empty scan both map to DeviceSelectionFailed
	//
	// TEST SCENARIO: cancelled chooser / no devices → connect → DeviceSelectionFailed

	s.Run("cancelled", func() {
		s.SetupTest()
		s.platform.WithFlipper(flipperAddr, "Flipper").Build()
		s.platform.Chooser = device.ChooserFunc(func(context.Context, []device.Advertisement) (device.Advertisement, error) {
			return device.Advertisement{}, device.ErrCancelled
		})
		err := s.newTransport().Connect(context.Background())
		s.Assert().ErrorIs(err, flipper.ErrDeviceSelectionFailed)
	})

	s.Run("nothing found", func() {
		s.SetupTest()
		err := s.newTransport().Connect(context.Background())
		s.Assert().ErrorIs(err, flipper.ErrDeviceSelectionFailed)
		s.Assert().ErrorIs(err, device.ErrNoDevice, "cause MUST be preserved")
	})
}

func (s *TransportTestSuite) TestConnectReentrancy() {
	// GOAL: Verify a second connect is rejected while connected and leaves the live session intact
	//
	// TEST SCENARIO: connected → connect again → AlreadyConnected, single observer, single request

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.connected()

	err := t.Connect(context.Background())

	s.Assert().ErrorIs(err, flipper.ErrAlreadyConnected, "second connect MUST be rejected")
	s.Assert().Equal(flipper.StateConnected, t.State(), "live session MUST be kept")
	s.Assert().Equal(1, s.platform.RequestCount(), "no second device request MUST be made")
	s.Assert().Equal(1, fp.ObserverCount(), "no second observer MUST be registered")
}

func (s *TransportTestSuite) TestReconnectWithAdapterGoneKeepsSession() {
	// GOAL: Verify a connect on a live session is rejected before the capability gate
	//
	// TEST SCENARIO: connected → adapter disappears → connect again → AlreadyConnected, no failure reported

	s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.connected()
	s.presenter.Reset()
	s.platform.Unavailable = device.ErrUnavailable

	err := t.Connect(context.Background())

	s.Assert().ErrorIs(err, flipper.ErrAlreadyConnected, "rejection MUST win over the capability gate")
	s.Assert().Empty(s.presenter.Messages(flipper.TagError), "no connection failure MUST be reported for a live session")
	s.Assert().Equal(flipper.StateConnected, t.State(), "live session MUST be kept")
}

func (s *TransportTestSuite) TestSlowChooserNotBoundByStepTimeout() {
	// GOAL: Verify the device choice is not cut short by the per-step timeout
	//
	// TEST SCENARIO: StepTimeout 50ms, chooser answers after 200ms → connect succeeds

	s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	s.platform.Chooser = device.ChooserFunc(func(ctx context.Context, c []device.Advertisement) (device.Advertisement, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return c[0], nil
		case <-ctx.Done():
			return device.Advertisement{}, ctx.Err()
		}
	})
	s.opts.StepTimeout = 50 * time.Millisecond
	t := s.newTransport()

	err := t.Connect(context.Background())

	s.Require().NoError(err, "a slow human choice MUST not hit the step timeout")
	s.Assert().Equal(flipper.StateConnected, t.State())
}

func (s *TransportTestSuite) TestConnectRejectedWhileConnecting() {
	// GOAL: Verify a connect issued during an in-flight attempt is rejected
	//
	// TEST SCENARIO: chooser blocks → second connect → AlreadyConnected; first attempt completes

	s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	entered := make(chan struct{})
	release := make(chan struct{})
	s.platform.Chooser = device.ChooserFunc(func(_ context.Context, c []device.Advertisement) (device.Advertisement, error) {
		close(entered)
		<-release
		return c[0], nil
	})
	t := s.newTransport()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = t.Connect(context.Background())
	}()

	<-entered
	s.Assert().Equal(flipper.StateConnecting, t.State(), "state MUST be connecting")
	s.Assert().ErrorIs(t.Connect(context.Background()), flipper.ErrAlreadyConnected)
	close(release)
	wg.Wait()

	s.Assert().NoError(firstErr, "first attempt MUST complete")
	s.Assert().Equal(flipper.StateConnected, t.State())
}

func (s *TransportTestSuite) TestDisconnectDuringConnect() {
	// GOAL: Verify link loss during connect fails the attempt instead of racing it
	//
	// TEST SCENARIO: link drops while resolving the service → connect fails, Disconnected, no handles

	var fp *testutils.FakePeripheral
	fp = s.platform.WithFlipper(flipperAddr, "Flipper").
		OnPrimaryService(func() { fp.SimulateDisconnect() }).
		Build()
	t := s.newTransport()

	err := t.Connect(context.Background())

	s.Require().Error(err, "connect MUST fail")
	s.Assert().ErrorIs(err, flipper.ErrPlatformBlocked, "link loss MUST classify as PlatformBlocked")
	s.Assert().ErrorIs(err, device.ErrDisconnected, "cause MUST be the link loss")
	s.Assert().Equal(flipper.StateDisconnected, t.State())
	s.Assert().Empty(s.presenter.States(), "no connection update MUST be emitted")
}

func (s *TransportTestSuite) TestSend() {
	// GOAL: Verify send frames the line with a single carriage return
	//
	// TEST SCENARIO: connected → send("LED") → exactly one write "LED\r"

	s.opts.WakeUp = false
	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.connected()

	s.Require().NoError(t.Send(context.Background(), "LED"))

	s.Assert().Equal([][]byte{[]byte("LED\r")}, fp.Characteristic(flipper.WriteUUID).Writes(),
		"payload MUST be the line plus CR")
}

func (s *TransportTestSuite) TestSendNotConnected() {
	// GOAL: Verify send without a session fails locally without I/O
	//
	// TEST SCENARIO: never connected / after disconnect → send → NotConnected, no writes

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.newTransport()

	err := t.Send(context.Background(), "LED")
	s.Assert().ErrorIs(err, flipper.ErrNotConnected, "send MUST fail with NotConnected")
	s.Assert().Empty(fp.Characteristic(flipper.WriteUUID).Writes(), "no I/O MUST happen")

	s.Require().NoError(t.Connect(context.Background()))
	s.Require().NoError(t.Disconnect())
	before := len(fp.Characteristic(flipper.WriteUUID).Writes())

	err = t.Send(context.Background(), "LED")
	s.Assert().ErrorIs(err, flipper.ErrNotConnected, "send after disconnect MUST fail with NotConnected")
	s.Assert().Len(fp.Characteristic(flipper.WriteUUID).Writes(), before, "no I/O MUST happen")
	s.Assert().Contains(s.presenter.Messages(flipper.TagError), "Send failed: not connected")
}

func (s *TransportTestSuite) TestSendTransmitFailed() {
	// GOAL: Verify a failed write reports TransmitFailed and keeps the session
	//
	// TEST SCENARIO: write rejected → send → TransmitFailed, still Connected

	s.opts.WakeUp = false
	writeErr := errors.New("att error")
	s.platform.WithFlipper(flipperAddr, "Flipper").FailWrite(flipper.WriteUUID, writeErr).Build()
	t := s.connected()

	err := t.Send(context.Background(), "LED")

	s.Assert().ErrorIs(err, flipper.ErrTransmitFailed, "error MUST be TransmitFailed")
	s.Assert().ErrorIs(err, writeErr, "cause MUST be preserved")
	s.Assert().Equal(flipper.StateConnected, t.State(), "state MUST stay connected")
}

func (s *TransportTestSuite) TestWakeUpFailureKeepsSession() {
	// GOAL: Verify a failed wake-up line does not undo the connection
	//
	// TEST SCENARIO: writes rejected → connect → succeeds, Connected, warning logged

	s.platform.WithFlipper(flipperAddr, "Flipper").FailWrite(flipper.WriteUUID, errors.New("att error")).Build()
	t := s.connected()

	s.Assert().Equal(flipper.StateConnected, t.State())
	s.Assert().NotEmpty(s.presenter.Messages(flipper.TagWarn), "wake-up failure MUST be reported as a warning")
}

func (s *TransportTestSuite) TestInboundChunks() {
	// GOAL: Verify every notification is forwarded as its own data chunk
	//
	// TEST SCENARIO: notify "AB" then "CD" → two data messages, two observer calls, in order

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.connected()

	var got []string
	cancel := t.OnData(func(chunk string) { got = append(got, chunk) })
	defer cancel()

	notify := fp.Characteristic(flipper.NotifyUUID)
	notify.Notify([]byte("AB"))
	notify.Notify([]byte("CD"))

	s.Assert().Equal([]string{"AB", "CD"}, s.presenter.Messages(flipper.TagData), "chunks MUST NOT be concatenated")
	s.Assert().Equal([]string{"AB", "CD"}, got, "observer MUST see each chunk once")
}

func (s *TransportTestSuite) TestInboundInvalidUTF8() {
	// GOAL: Verify invalid UTF-8 is replaced instead of dropped
	//
	// TEST SCENARIO: notify 0xff → data chunk with U+FFFD

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	s.connected()

	fp.Characteristic(flipper.NotifyUUID).Notify([]byte{'o', 'k', 0xff})

	s.Assert().Equal([]string{"ok\uFFFD"}, s.presenter.Messages(flipper.TagData))
}

func (s *TransportTestSuite) TestPlatformDisconnect() {
	// GOAL: Verify a platform disconnect clears the session and notifies the presenter
	//
	// TEST SCENARIO: connected → link lost → Disconnected, handler removed, send fails locally

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.connected()

	fp.SimulateDisconnect()

	s.Assert().Equal(flipper.StateDisconnected, t.State(), "state MUST be disconnected")
	s.Assert().Empty(t.DeviceName(), "device handle MUST be released")
	s.Assert().False(fp.Characteristic(flipper.NotifyUUID).HasHandler(), "handler MUST be removed")
	s.Assert().Equal(0, fp.ObserverCount(), "observer MUST be removed")
	s.Assert().Equal([]bool{true, false}, s.presenter.States(), "presenter MUST see connected then disconnected")
	s.Assert().ErrorIs(t.Send(context.Background(), "LED"), flipper.ErrNotConnected)

	s.Run("reconnect is explicit", func() {
		s.Assert().Equal(1, s.platform.RequestCount(), "no automatic reconnect MUST happen")
		s.Require().NoError(t.Connect(context.Background()), "explicit reconnect MUST work")
		s.Assert().Equal(flipper.StateConnected, t.State())
	})
}

func (s *TransportTestSuite) TestExplicitDisconnect() {
	// GOAL: Verify Disconnect tears the session down and is idempotent
	//
	// TEST SCENARIO: connected → Disconnect twice → link closed once, notifications stopped

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").Build()
	t := s.connected()

	s.Require().NoError(t.Disconnect())
	s.Require().NoError(t.Disconnect(), "second disconnect MUST be a no-op")

	s.Assert().Equal(flipper.StateDisconnected, t.State())
	s.Assert().Equal(1, fp.Disconnects, "GATT link MUST be closed once")
	s.Assert().Equal(1, fp.Characteristic(flipper.NotifyUUID).StopCalls, "notifications MUST be stopped")
	s.Assert().Equal([]bool{true, false}, s.presenter.States())
}

func (s *TransportTestSuite) TestSettleDelay() {
	// GOAL: Verify the settle delay is honoured at both settle points
	//
	// TEST SCENARIO: 30ms delay → connect takes at least 30ms

	for _, point := range []flipper.SettlePoint{flipper.SettleAfterResolve, flipper.SettleAfterActivate} {
		s.Run(string(point), func() {
			s.SetupTest()
			s.opts.SettleDelay = 30 * time.Millisecond
			s.opts.SettlePoint = point
			s.platform.WithFlipper(flipperAddr, "Flipper").Build()

			start := time.Now()
			s.connected()
			s.Assert().GreaterOrEqual(time.Since(start), 30*time.Millisecond, "connect MUST wait for the settle delay")
		})
	}
}

func (s *TransportTestSuite) TestConnectedInvariant() {
	// GOAL: Verify Connected is only ever observed with both characteristics bound
	//
	// TEST SCENARIO: mix of failing and succeeding attempts → every Connected state has a session

	fp := s.platform.WithFlipper(flipperAddr, "Flipper").
		FailStartNotifications(flipper.NotifyUUID, device.ErrNotSupported).
		Build()

	s.opts.Activation = flipper.ActivationStandard
	failing := s.newTransport()
	s.Assert().Error(failing.Connect(context.Background()))
	s.Assert().Equal(flipper.StateDisconnected, failing.State())
	s.Assert().Empty(failing.DeviceName())

	s.opts.Activation = flipper.ActivationAuto
	working := s.newTransport()
	s.Require().NoError(working.Connect(context.Background()))
	s.Assert().Equal(flipper.StateConnected, working.State())
	s.Assert().NotEmpty(working.DeviceName(), "connected transport MUST hold a session")
	s.Assert().True(fp.Characteristic(flipper.NotifyUUID).IsNotifying())
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
