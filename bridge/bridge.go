//go:build !windows

// Package bridge exposes the Flipper console on a pseudo-terminal so that
// serial tools (screen, minicom, picocom) can talk to it.
package bridge

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/ptyio"
	"github.com/srg/flipble/pkg/flipper"
)

// Link is the connected console the bridge forwards to
type Link interface {
	flipper.Sender
	OnData(fn func(chunk string)) (cancel func())
}

// Options configures a bridge
type Options struct {
	Symlink    string // optional stable path for the PTY slave, e.g. /tmp/flipper
	InputSize  int    // PTY input ring size in bytes (0 = default)
	OutputSize int    // PTY output ring size in bytes (0 = default)
	QueueDepth int    // pending lines before typing blocks (0 = default)
	Logger     *logrus.Logger
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// Bridge forwards lines typed on the PTY to the Flipper and writes
// every inbound chunk to the PTY.
type Bridge struct {
	port        ptyio.Port
	queue       *flipper.SendQueue
	lines       LineSplitter
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *logrus.Logger
}

// Start opens the PTY and wires it to link
func Start(ctx context.Context, link Link, opts Options) (*Bridge, error) {
	if link == nil {
		return nil, fmt.Errorf("failed to start bridge: link is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	port, err := ptyio.Open(ptyio.Options{
		InputCap:  opts.InputSize,
		OutputCap: opts.OutputSize,
		Symlink:   opts.Symlink,
		Logger:    logger,
		OnError: func(err error) {
			logger.WithError(err).Error("PTY failure")
		},
	})
	if err != nil {
		return nil, err
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		port:   port,
		queue:  flipper.NewSendQueue(link, opts.QueueDepth, logger),
		ctx:    bctx,
		cancel: cancel,
		logger: logger,
	}
	b.unsubscribe = link.OnData(b.fromFlipper)
	port.OnInput(b.fromPTY)
	return b, nil
}

func (b *Bridge) fromFlipper(chunk string) {
	if _, err := b.port.Write([]byte(chunk)); err != nil {
		b.logger.WithError(err).Debug("Dropped chunk for closed PTY")
	}
}

// fromPTY runs on the PTY dispatch goroutine, so lines go out in typing order
func (b *Bridge) fromPTY(data []byte) {
	for _, line := range b.lines.Feed(data) {
		if err := b.queue.Send(b.ctx, line); err != nil {
			b.logger.WithError(err).WithField("line", line).Warn("Bridge failed to send line")
		}
	}
}

// Name is the PTY slave path
func (b *Bridge) Name() string { return b.port.Name() }

// Symlink is the symlink path, "" when none was requested
func (b *Bridge) Symlink() string { return b.port.Symlink() }

func (b *Bridge) Stats() ptyio.Stats { return b.port.Stats() }

// Close detaches from the link and releases the PTY. The link stays connected.
func (b *Bridge) Close() error {
	b.unsubscribe()
	b.cancel()
	b.queue.Close()
	return b.port.Close()
}

// Run starts a bridge over link, calls callback with it and closes it afterwards.
// Connecting the link is the caller's job.
func Run[R any](ctx context.Context, link Link, opts Options, progress ProgressCallback, callback func(*Bridge) (R, error)) (R, error) {
	var zero R
	if progress == nil {
		progress = func(string) {}
	}

	progress("Setting up PTY")
	b, err := Start(ctx, link, opts)
	if err != nil {
		progress("Failed")
		return zero, err
	}
	defer func() {
		if err := b.Close(); err != nil {
			b.logger.WithError(err).Warn("Bridge closed with errors")
		}
	}()

	b.logger.WithFields(logrus.Fields{
		"tty":     b.Name(),
		"symlink": b.Symlink(),
	}).Info("Bridge running")
	progress("Running")
	return callback(b)
}
