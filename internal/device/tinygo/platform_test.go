package tinygo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/internal/testutils"
	"github.com/srg/flipble/pkg/flipper"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type fakeRadio struct {
	enableErr error
	advs      []device.Advertisement
	link      *fakeLink
	dialErr   error

	mu         sync.Mutex
	enabled    int
	probes     [][]string
	disconnect func(address string)
}

func (r *fakeRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled++
	return r.enableErr
}

func (r *fakeRadio) Scan(ctx context.Context, probe []string, handler func(device.Advertisement)) error {
	r.mu.Lock()
	r.probes = append(r.probes, probe)
	r.mu.Unlock()
	for _, adv := range r.advs {
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRadio) Connect(_ context.Context, _ string) (Link, error) {
	if r.dialErr != nil {
		return nil, r.dialErr
	}
	return r.link, nil
}

func (r *fakeRadio) SetDisconnectHandler(fn func(address string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnect = fn
}

func (r *fakeRadio) drop(address string) {
	r.mu.Lock()
	fn := r.disconnect
	r.mu.Unlock()
	fn(address)
}

type fakeLink struct {
	services map[string]bool
	chars    map[string]CharLink

	mu           sync.Mutex
	disconnected bool
}

func (l *fakeLink) Service(uuid string) (bool, error) {
	return l.services[device.NormalizeUUID(uuid)], nil
}

func (l *fakeLink) Characteristic(serviceUUID, charUUID string) (CharLink, error) {
	c, ok := l.chars[device.NormalizeUUID(charUUID)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return c, nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = true
	return nil
}

type MockCharLink struct {
	mock.Mock
}

func (m *MockCharLink) WriteWithoutResponse(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockCharLink) EnableNotifications(callback func(buf []byte)) error {
	return m.Called(callback).Error(0)
}

type TinygoTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	radio  *fakeRadio
	link   *fakeLink
	write  *MockCharLink
	notify *MockCharLink

	flipperAddr string
}

func (s *TinygoTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.flipperAddr = "80:E1:26:00:00:01"
	s.write = &MockCharLink{}
	s.notify = &MockCharLink{}
	s.link = &fakeLink{
		services: map[string]bool{device.NormalizeUUID(flipper.ServiceUUID): true},
		chars: map[string]CharLink{
			device.NormalizeUUID(flipper.WriteUUID):  s.write,
			device.NormalizeUUID(flipper.NotifyUUID): s.notify,
		},
	}
	s.radio = &fakeRadio{
		link: s.link,
		advs: []device.Advertisement{
			{Address: "11:22:33:44:55:66", Name: "Keyboard", RSSI: -45},
			{Address: s.flipperAddr, Name: "Flipper Tinker", RSSI: -60,
				Services: []string{device.NormalizeUUID(flipper.ServiceUUID)}},
		},
	}
}

func (s *TinygoTestSuite) platform() *Platform {
	pick := device.ChooserFunc(func(_ context.Context, c []device.Advertisement) (device.Advertisement, error) {
		for _, adv := range c {
			if adv.Address == s.flipperAddr {
				return adv, nil
			}
		}
		return c[0], nil
	})
	return NewPlatformWithRadio(s.radio, pick, 20*time.Millisecond, s.helper.Logger)
}

func (s *TinygoTestSuite) transport(p device.Platform, activation flipper.ActivationStrategy) (*flipper.Transport, *testutils.RecordingPresenter) {
	rec := &testutils.RecordingPresenter{}
	opts := flipper.DefaultOptions()
	opts.SettleDelay = 0
	opts.Activation = activation
	tr, err := flipper.NewTransport(p, rec, opts, s.helper.Logger)
	s.Require().NoError(err)
	return tr, rec
}

func (s *TinygoTestSuite) TestAvailableEnablesOnce() {
	p := s.platform()

	s.Require().NoError(p.Available())
	s.Require().NoError(p.Available())

	s.Equal(1, s.radio.enabled, "adapter MUST be enabled once")
	s.NotNil(s.radio.disconnect, "disconnect handler MUST be installed")
}

func (s *TinygoTestSuite) TestAvailableFailure() {
	s.radio.enableErr = errors.New("bluetooth is turned off")

	err := s.platform().Available()

	s.ErrorIs(err, device.ErrUnavailable)
}

func (s *TinygoTestSuite) TestRequestDeviceProbesRequestedServices() {
	p := s.platform()

	per, err := p.RequestDevice(context.Background(), device.RequestOptions{
		AcceptAll:        true,
		OptionalServices: []string{flipper.ServiceUUID},
	})

	s.Require().NoError(err)
	s.Equal(s.flipperAddr, per.ID())
	s.Require().Len(s.radio.probes, 1)
	s.Equal([]string{flipper.ServiceUUID}, s.radio.probes[0])
}

func (s *TinygoTestSuite) TestTransportStandardActivation() {
	// GOAL: Verify the transport runs end to end over the tinygo backend
	//
	// TEST SCENARIO: broad discovery → standard activation → wake-up written → chunks routed

	var deliver func([]byte)
	s.notify.On("EnableNotifications", mock.Anything).
		Run(func(args mock.Arguments) { deliver = args.Get(0).(func([]byte)) }).
		Return(nil).Once()
	s.write.On("WriteWithoutResponse", []byte("\r")).Return(1, nil).Once()
	s.write.On("WriteWithoutResponse", []byte("LED\r")).Return(4, nil).Once()

	tr, rec := s.transport(s.platform(), flipper.ActivationAuto)

	s.Require().NoError(tr.Connect(context.Background()))
	s.Equal(flipper.ActivationStandard, tr.Activation())
	s.Require().NoError(tr.Send(context.Background(), "LED"))

	s.Require().NotNil(deliver)
	deliver([]byte(">: "))
	s.Equal([]string{">: "}, rec.Messages(flipper.TagData))

	s.Require().NoError(tr.Disconnect())
	s.True(s.link.disconnected)
	s.write.AssertExpectations(s.T())
	s.notify.AssertExpectations(s.T())
}

func (s *TinygoTestSuite) TestDescriptorActivationUnsupported() {
	// GOAL: Verify a descriptor-only strategy fails cleanly without descriptor access
	//
	// TEST SCENARIO: activation=descriptor → NotificationUnsupported → link closed

	tr, _ := s.transport(s.platform(), flipper.ActivationDescriptor)

	err := tr.Connect(context.Background())

	s.ErrorIs(err, flipper.ErrNotificationUnsupported)
	s.True(s.link.disconnected, "link MUST be closed after a failed connect")
	s.notify.AssertNotCalled(s.T(), "EnableNotifications", mock.Anything)
}

func (s *TinygoTestSuite) TestWrongDevice() {
	s.link.services = map[string]bool{}

	tr, _ := s.transport(s.platform(), flipper.ActivationAuto)
	err := tr.Connect(context.Background())

	s.ErrorIs(err, flipper.ErrServiceNotFound)
}

func (s *TinygoTestSuite) TestLinkLoss() {
	// GOAL: Verify the adapter-wide disconnect callback reaches the right transport
	//
	// TEST SCENARIO: connected → radio reports the Flipper address lost → Disconnected

	s.notify.On("EnableNotifications", mock.Anything).Return(nil)
	s.write.On("WriteWithoutResponse", mock.Anything).Return(1, nil)

	p := s.platform()
	tr, rec := s.transport(p, flipper.ActivationStandard)
	s.Require().NoError(tr.Connect(context.Background()))

	s.radio.drop("AA:BB:CC:DD:EE:FF")
	s.Equal(flipper.StateConnected, tr.State(), "unrelated addresses MUST be ignored")

	s.radio.drop(s.flipperAddr)
	s.Equal(flipper.StateDisconnected, tr.State())
	s.Equal([]bool{true, false}, rec.States())
	s.False(s.link.disconnected, "a lost link MUST NOT be closed again")

	_, tracked := p.links.Get(s.flipperAddr)
	s.False(tracked)
}

func (s *TinygoTestSuite) TestLateConnectIsClosed() {
	// GOAL: Verify a connect that completes after the caller gave up does not leave a live link
	//
	// TEST SCENARIO: ctx cancelled while connecting → connect finishes later → link disconnected

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	done := make(chan Link, 1)
	go func() {
		l, _ := call(ctx, "test-connect", func() (Link, error) {
			<-release
			return s.link, nil
		}, func(l Link) { _ = l.Disconnect() })
		done <- l
	}()

	cancel()
	s.Nil(<-done, "a cancelled connect MUST return no link")
	close(release)

	s.Eventually(func() bool {
		s.link.mu.Lock()
		defer s.link.mu.Unlock()
		return s.link.disconnected
	}, time.Second, 5*time.Millisecond, "a link completed after cancellation MUST be disconnected")
}

func (s *TinygoTestSuite) TestFailedLateConnectIsIgnored() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	abandoned := make(chan struct{}, 1)
	_, err := call(ctx, "test-connect", func() (Link, error) {
		<-release
		return nil, errors.New("timeout")
	}, func(Link) { abandoned <- struct{}{} })
	close(release)

	s.ErrorIs(err, context.Canceled)
	select {
	case <-abandoned:
		s.Fail("a failed connect MUST NOT be handed to abandon")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTinygoTestSuite(t *testing.T) {
	suite.Run(t, new(TinygoTestSuite))
}
