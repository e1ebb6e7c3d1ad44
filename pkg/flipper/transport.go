package flipper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/device"
)

// State is the connection state of a Transport
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session holds the handles of one connection attempt. Once committed to the
// Transport it is complete: every field is set.
type session struct {
	peripheral device.Peripheral
	server     device.Server
	write      device.Characteristic
	notify     device.Characteristic
	unregister func()
	name       string
	handlerSet bool
	activated  ActivationStrategy
}

// attempt identifies one Connect call so late platform callbacks can be matched
type attempt struct {
	cancel context.CancelCauseFunc
}

type dataObserver struct {
	id int
	fn func(chunk string)
}

// Transport owns the link to one Flipper
type Transport struct {
	platform  device.Platform
	presenter Presenter
	opts      Options
	logger    *logrus.Logger

	mu        sync.Mutex
	state     State
	session   *session
	attempt   *attempt
	observers []dataObserver
	nextObsID int
}

// NewTransport creates a Transport. A nil presenter or logger discards output.
func NewTransport(platform device.Platform, presenter Presenter, opts Options, logger *logrus.Logger) (*Transport, error) {
	if platform == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Transport{
		platform:  platform,
		presenter: presenter,
		opts:      opts,
		logger:    logger,
	}, nil
}

// State returns the current connection state
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// DeviceName returns the display name of the connected device, "" otherwise
func (t *Transport) DeviceName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ""
	}
	return t.session.name
}

// Activation returns the activation variant that armed the current session
func (t *Transport) Activation() ActivationStrategy {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ""
	}
	return t.session.activated
}

// OnData registers an observer for inbound chunks and returns a function removing it.
// Observers run on the backend's notification goroutine, once per notification.
func (t *Transport) OnData(fn func(chunk string)) (cancel func()) {
	t.mu.Lock()
	t.nextObsID++
	id := t.nextObsID
	t.observers = append(t.observers, dataObserver{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, o := range t.observers {
			if o.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// Connect discovers, binds and arms one Flipper. It is rejected while another
// attempt is running or a session is live.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateDisconnected {
		state := t.state
		t.mu.Unlock()
		return t.rejectConnect(state)
	}
	t.mu.Unlock()

	if err := t.platform.Available(); err != nil {
		ferr := classify(stepCapability, err)
		t.logger.WithError(err).Error("Bluetooth LE capability unavailable")
		t.reportConnectError(ferr)
		return ferr
	}

	t.mu.Lock()
	// another attempt may have started while the capability gate ran
	if t.state != StateDisconnected {
		state := t.state
		t.mu.Unlock()
		return t.rejectConnect(state)
	}
	attemptCtx, cancel := context.WithCancelCause(ctx)
	a := &attempt{cancel: cancel}
	t.state = StateConnecting
	t.attempt = a
	t.mu.Unlock()
	defer cancel(nil)

	sess := &session{}
	if err := t.connect(attemptCtx, a, sess); err != nil {
		ferr := classify(stepOf(err), err)
		t.release(sess, true)

		t.mu.Lock()
		t.state = StateDisconnected
		t.session = nil
		t.attempt = nil
		t.mu.Unlock()

		t.logger.WithFields(logrus.Fields{
			"kind":  ferr.Kind,
			"step":  ferr.Op,
			"error": ferr.Err,
		}).Error("Connect failed")
		t.reportConnectError(ferr)
		return ferr
	}

	t.logger.WithFields(logrus.Fields{
		"device":     sess.name,
		"id":         sess.peripheral.ID(),
		"activation": sess.activated,
	}).Info("Flipper connected")
	t.presenter.ConnectionChanged(true, sess.name)

	if t.opts.WakeUp {
		if err := t.send(attemptCtx, sess, ""); err != nil {
			t.logger.WithError(err).Warn("Wake-up line failed")
			t.presenter.Log(TagWarn, "Wake-up line failed: "+err.Error())
		}
	}
	return nil
}

func (t *Transport) rejectConnect(state State) error {
	t.logger.WithField("state", state).Warn("Connect rejected")
	t.presenter.Log(TagWarn, fmt.Sprintf("Connect ignored: already %s", state))
	return &Error{Kind: KindAlreadyConnected, Op: "connect", Err: fmt.Errorf("transport is %s", state)}
}

// stepError tags a failure with the connect step it came from
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func stepOf(err error) string {
	var se *stepError
	if errors.As(err, &se) {
		return se.step
	}
	return ""
}

func failStep(ctx context.Context, step string, err error) error {
	err = causeOf(ctx, err)
	return &stepError{step: step, err: classify(step, err)}
}

// connect runs the ordered connect steps, filling sess as handles are obtained
func (t *Transport) connect(ctx context.Context, a *attempt, sess *session) error {
	if t.opts.Discovery == DiscoveryFiltered {
		t.presenter.Log(TagInfo, "Searching for Flipper (filtered by service)...")
	} else {
		t.presenter.Log(TagInfo, "Searching for Flipper (all devices)...")
	}

	// no step timeout: the request may wait on a human choice; the platform bounds its own scan
	peripheral, err := t.platform.RequestDevice(ctx, t.opts.requestOptions())
	if err == nil && peripheral == nil {
		err = device.ErrNoDevice
	}
	if err != nil {
		return failStep(ctx, stepRequest, err)
	}
	sess.peripheral = peripheral
	sess.name = peripheral.Name()
	if sess.name == "" {
		sess.name = peripheral.ID()
	}
	t.presenter.Log(TagInfo, "Device selected: "+sess.name)

	// observe link loss before any further I/O
	sess.unregister = peripheral.OnDisconnect(func() { t.handleDisconnect(a) })

	log := t.logger.WithField("device", sess.name)

	t.presenter.Log(TagDebug, "Connecting to GATT server...")
	log.Debug("Opening GATT connection...")
	server, err := withStep(ctx, t.opts.StepTimeout, func(sctx context.Context) (device.Server, error) {
		return peripheral.Connect(sctx)
	})
	if err != nil {
		return failStep(ctx, stepGATT, err)
	}
	sess.server = server
	if err := ctx.Err(); err != nil {
		return failStep(ctx, stepGATT, err)
	}

	t.presenter.Log(TagDebug, "Getting primary service...")
	log.WithField("uuid", ServiceUUID).Debug("Resolving primary service...")
	svc, err := withStep(ctx, t.opts.StepTimeout, func(sctx context.Context) (device.Service, error) {
		return server.PrimaryService(sctx, ServiceUUID)
	})
	if err != nil {
		return failStep(ctx, stepService, err)
	}

	t.presenter.Log(TagDebug, "Getting characteristics...")
	for _, c := range []struct {
		uuid string
		dst  *device.Characteristic
	}{{WriteUUID, &sess.write}, {NotifyUUID, &sess.notify}} {
		log.WithField("uuid", c.uuid).Debug("Resolving characteristic...")
		char, err := withStep(ctx, t.opts.StepTimeout, func(sctx context.Context) (device.Characteristic, error) {
			return svc.Characteristic(sctx, c.uuid)
		})
		if err != nil {
			return failStep(ctx, stepCharacteristic, err)
		}
		*c.dst = char
	}

	if t.opts.SettlePoint == SettleAfterResolve {
		if err := t.settle(ctx); err != nil {
			return failStep(ctx, stepSettle, err)
		}
	}

	// the handler goes in before the activation write so early chunks are kept
	sess.notify.SetValueHandler(t.dispatch)
	sess.handlerSet = true

	t.presenter.Log(TagDebug, "Starting notifications...")
	variant, err := withStep(ctx, t.opts.StepTimeout, func(sctx context.Context) (ActivationStrategy, error) {
		return activate(sctx, t.opts.Activation, sess.notify, t.logger)
	})
	if err != nil {
		return failStep(ctx, stepActivate, err)
	}
	sess.activated = variant
	log.WithField("activation", variant).Debug("Notifications active")

	if t.opts.SettlePoint == SettleAfterActivate {
		if err := t.settle(ctx); err != nil {
			return failStep(ctx, stepSettle, err)
		}
	}

	// commit under the lock so a concurrent link loss either cancelled ctx
	// before this point or finds the session afterwards
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return failStep(ctx, stepSettle, err)
	}
	t.session = sess
	t.state = StateConnected
	return nil
}

func (t *Transport) settle(ctx context.Context) error {
	d := t.opts.SettleDelay
	if d <= 0 {
		return nil
	}
	t.logger.WithField("delay", d).Debug("Settling...")
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withStep runs fn with the per-step timeout applied
func withStep[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}

// dispatch forwards one notification as one data chunk
func (t *Transport) dispatch(data []byte) {
	chunk := string(data)
	if !utf8.ValidString(chunk) {
		chunk = strings.ToValidUTF8(chunk, "\uFFFD")
	}

	t.mu.Lock()
	observers := make([]dataObserver, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	t.presenter.Log(TagData, chunk)
	for _, o := range observers {
		o.fn(chunk)
	}
}

// handleDisconnect is the platform link-loss observer of attempt a
func (t *Transport) handleDisconnect(a *attempt) {
	t.mu.Lock()
	if t.attempt != a {
		t.mu.Unlock()
		return
	}
	switch t.state {
	case StateConnecting:
		t.mu.Unlock()
		t.logger.Warn("Link lost while connecting")
		a.cancel(device.ErrDisconnected)
		return
	case StateConnected:
		sess := t.session
		t.session = nil
		t.attempt = nil
		t.state = StateDisconnected
		t.mu.Unlock()

		t.release(sess, false)
		t.logger.WithField("device", sess.name).Warn("Flipper disconnected")
		t.presenter.ConnectionChanged(false, "")
	default:
		t.mu.Unlock()
	}
}

// Disconnect tears down the live session. It is a no-op when disconnected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	switch t.state {
	case StateDisconnected:
		t.mu.Unlock()
		return nil
	case StateConnecting:
		t.mu.Unlock()
		return &Error{Kind: KindAlreadyConnected, Op: "disconnect", Err: errors.New("connect in progress")}
	}
	sess := t.session
	t.session = nil
	t.attempt = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	t.release(sess, true)
	t.logger.WithField("device", sess.name).Info("Disconnected from Flipper")
	t.presenter.ConnectionChanged(false, "")
	return nil
}

// release undoes whatever part of sess has been set up. With closeLink the
// GATT link is closed as well; without it the link is assumed gone.
func (t *Transport) release(sess *session, closeLink bool) {
	if sess == nil {
		return
	}
	// stop observing before closing the link ourselves
	if sess.unregister != nil {
		sess.unregister()
	}
	if sess.notify != nil && sess.handlerSet {
		sess.notify.SetValueHandler(nil)
		if closeLink && sess.activated != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := sess.notify.StopNotifications(ctx); err != nil {
				t.logger.WithError(err).Debug("Failed to stop notifications")
			}
			cancel()
		}
	}
	if closeLink && sess.server != nil {
		if err := sess.server.Disconnect(); err != nil {
			t.logger.WithError(err).Debug("Failed to close GATT connection")
		}
	}
}

// Send writes text followed by the line terminator and waits for completion
func (t *Transport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	state, sess := t.state, t.session
	t.mu.Unlock()

	if state != StateConnected || sess == nil || sess.write == nil {
		t.logger.WithField("state", state).Debug("Send while not connected")
		t.presenter.Log(TagError, "Send failed: not connected")
		return &Error{Kind: KindNotConnected, Op: "send"}
	}

	if err := t.send(ctx, sess, text); err != nil {
		t.presenter.Log(TagError, "Send failed: "+err.Error())
		return err
	}
	return nil
}

func (t *Transport) send(ctx context.Context, sess *session, text string) error {
	t.logger.WithField("line", text).Debug("Sending line")
	_, err := withStep(ctx, t.opts.StepTimeout, func(sctx context.Context) (struct{}, error) {
		return struct{}{}, sess.write.WriteValue(sctx, Frame(text))
	})
	if err != nil {
		t.logger.WithError(err).Warn("Write to Flipper failed")
		return &Error{Kind: KindTransmitFailed, Op: "send", Err: err}
	}
	return nil
}

func (t *Transport) reportConnectError(ferr *Error) {
	if errors.Is(ferr, context.Canceled) && !errors.Is(ferr, device.ErrDisconnected) {
		t.presenter.Log(TagInfo, "Connect cancelled")
		return
	}
	t.presenter.Log(TagError, "Connection failed: "+ferr.Error())
	if hint := ferr.Hint(); hint != "" {
		t.presenter.Log(TagWarn, hint)
	}
}
