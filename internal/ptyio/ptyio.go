//go:build !windows

// Package ptyio exposes a pseudo-terminal whose master side is driven through
// ring buffers: writes never block the caller, and bytes typed on the slave
// side are handed to an input callback from a background goroutine.
//
//	port, err := ptyio.Open(ptyio.Options{Symlink: "/tmp/flipper"})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	port.OnInput(func(b []byte) { ... })
//	_, _ = port.Write([]byte("hello\r\n"))
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/flipble/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultBufferSize  = 4096
	DefaultPollTimeout = 50 * time.Millisecond
)

// InputFunc receives bytes written by the slave side. The slice is only valid during the call.
type InputFunc func(data []byte)

// Options configures Open. Zero values use the defaults.
type Options struct {
	InputCap    int           // bytes buffered from the slave before the oldest are dropped
	OutputCap   int           // bytes buffered towards the slave
	PollTimeout time.Duration // upper bound on shutdown latency of the I/O loops
	Symlink     string        // optional stable path pointing at the slave device
	Logger      *logrus.Logger
	OnError     func(err error) // called once when an I/O loop dies
}

// Port is the master side of an open pseudo-terminal
type Port interface {
	io.WriteCloser
	Name() string    // slave device path, e.g. /dev/pts/5
	Symlink() string // symlink path, "" when none was requested
	OnInput(fn InputFunc)
	Stats() Stats
}

// Stats are byte counters of a Port
type Stats struct {
	InputBytes     uint64
	OutputBytes    uint64
	DroppedInput   uint64
	DroppedOutput  uint64
	PendingOutput  int
	OutputCapacity int
}

type port struct {
	master  *os.File
	slave   *os.File
	name    string
	symlink string
	poll    int
	logger  *logrus.Logger
	onError func(error)
	errOnce sync.Once

	out   *ringbuffer.RingBuffer
	in    *ringbuffer.RingBuffer
	input atomic.Pointer[InputFunc]
	ready chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	inBytes, outBytes, droppedIn, droppedOut atomic.Uint64
}

// Open creates the pseudo-terminal pair, puts the slave in raw mode and
// starts the I/O loops.
func Open(opts Options) (Port, error) {
	if opts.InputCap <= 0 {
		opts.InputCap = DefaultBufferSize
	}
	if opts.OutputCap <= 0 {
		opts.OutputCap = DefaultBufferSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	p := &port{
		master:  master,
		slave:   slave,
		name:    slave.Name(),
		poll:    int(opts.PollTimeout / time.Millisecond),
		logger:  logger,
		onError: opts.OnError,
		out:     ringbuffer.New(opts.OutputCap),
		in:      ringbuffer.New(opts.InputCap),
		ready:   make(chan struct{}, 1),
	}

	if opts.Symlink != "" {
		if err := os.Symlink(p.name, opts.Symlink); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.Symlink, p.name, err)
		}
		p.symlink = opts.Symlink
		logger.WithFields(logrus.Fields{"symlink": p.symlink, "tty": p.name}).Info("Created PTY symlink")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(3)
	groutine.Go(p.ctx, "pty-output", func(context.Context) { p.outputLoop() })
	groutine.Go(p.ctx, "pty-input", func(context.Context) { p.inputLoop() })
	groutine.Go(p.ctx, "pty-dispatch", func(context.Context) { p.dispatchLoop() })

	logger.WithField("tty", p.name).Info("Created PTY device")
	return p, nil
}

func openRaw() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set PTY master of %s non-blocking: %w", slave.Name(), err)
	}
	return master, slave, nil
}

func (p *port) Name() string    { return p.name }
func (p *port) Symlink() string { return p.symlink }

// Write queues data for the slave and returns at once. When the buffer is
// full the tail of data is dropped and n < len(data).
func (p *port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.out.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.droppedOut.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{"queued": n, "size": len(data)}).Warn("PTY output buffer full, bytes dropped")
	}
	return n, nil
}

// OnInput sets the input callback; nil stops delivery. Bytes already buffered are delivered to fn.
func (p *port) OnInput(fn InputFunc) {
	if fn == nil {
		p.input.Store(nil)
		return
	}
	p.input.Store(&fn)
	p.signal()
}

func (p *port) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *port) fail(loop string, err error) {
	p.logger.WithError(err).WithField("loop", loop).Warn("PTY loop stopped")
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(fmt.Errorf("%s: %w", loop, err)) })
	}
}

func (p *port) outputLoop() {
	defer p.wg.Done()

	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for p.ctx.Err() == nil {
		n, err := p.out.TryRead(buf)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			time.Sleep(time.Duration(p.poll) * time.Millisecond / 5)
			continue
		}
		for off := 0; off < n; {
			w, err := master.Write(buf[off:n])
			off += w
			p.outBytes.Add(uint64(w))
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				_, _ = unix.Poll(fds, p.poll)
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.fail("output", err)
				return
			}
		}
	}
}

func (p *port) inputLoop() {
	defer p.wg.Done()

	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for p.ctx.Err() == nil {
		ready, err := unix.Poll(fds, p.poll)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("PTY poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			w, _ := p.in.Write(buf[:n])
			if w < n {
				p.droppedIn.Add(uint64(n - w))
				p.logger.WithField("dropped", n-w).Warn("PTY input buffer full, bytes dropped")
			}
			p.inBytes.Add(uint64(w))
			p.signal()
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
			return
		default:
			p.fail("input", err)
			return
		}
	}
}

func (p *port) dispatchLoop() {
	defer p.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.ready:
		}
		for p.ctx.Err() == nil {
			fn := p.input.Load()
			if fn == nil {
				break
			}
			n, _ := p.in.TryRead(buf)
			if n == 0 {
				break
			}
			p.deliver(*fn, buf[:n])
		}
	}
}

// deliver calls fn, dropping the callback if it panics
func (p *port) deliver(fn InputFunc, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.input.Store(nil)
			p.fail("dispatch", fmt.Errorf("input callback panic: %v", r))
		}
	}()
	fn(data)
}

func (p *port) Stats() Stats {
	return Stats{
		InputBytes:     p.inBytes.Load(),
		OutputBytes:    p.outBytes.Load(),
		DroppedInput:   p.droppedIn.Load(),
		DroppedOutput:  p.droppedOut.Load(),
		PendingOutput:  p.out.Length(),
		OutputCapacity: p.out.Capacity(),
	}
}

// Close stops the loops, removes the symlink and closes both ends
func (p *port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	if p.symlink != "" {
		if err := os.Remove(p.symlink); err != nil {
			p.logger.WithError(err).WithField("symlink", p.symlink).Warn("Failed to remove tty symlink")
		}
	}

	errMaster := p.master.Close()
	errSlave := p.slave.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.WithField("tty", p.name).Error("PTY loops did not stop within 5s")
	}
	return errors.Join(errMaster, errSlave)
}
