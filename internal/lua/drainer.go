package lua

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/groutine"
)

const finalDrainTimeout = 100 * time.Millisecond

// OutputDrainer copies engine output to stdout/stderr writers in the background
type OutputDrainer struct {
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Stop asks the drainer to flush what is left and exit
func (d *OutputDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the drainer goroutine exited
func (d *OutputDrainer) Wait() {
	d.wg.Wait()
}

// NewOutputDrainer starts draining output. Nil writers discard.
func NewOutputDrainer(ctx context.Context, output <-chan OutputRecord, stdout, stderr io.Writer, logger *logrus.Logger) *OutputDrainer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	w := &recordWriter{stdout: stdout, stderr: stderr, logger: logger}
	d := &OutputDrainer{stop: make(chan struct{})}

	d.wg.Add(1)
	groutine.Go(ctx, "lua-output-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		defer logger.Debugf("%s: exiting", groutine.GetName(ctx))

		for {
			select {
			case rec, ok := <-output:
				if !ok {
					return
				}
				w.write(rec)
			case <-d.stop:
				w.flush(output, finalDrainTimeout, "stop")
				return
			case <-ctx.Done():
				w.flush(output, finalDrainTimeout, "context-done")
				return
			}
		}
	})
	return d
}

type recordWriter struct {
	stdout, stderr io.Writer
	logger         *logrus.Logger
}

func (w *recordWriter) write(rec OutputRecord) {
	dst := w.stdout
	if rec.Source == SourceStderr {
		dst = w.stderr
	}
	if _, err := io.WriteString(dst, rec.Content); err != nil {
		w.logger.WithFields(logrus.Fields{"source": rec.Source, "error": err}).Warn("Output drainer: write failed")
	}
}

// flush writes what is already buffered, giving up after timeout
func (w *recordWriter) flush(output <-chan OutputRecord, timeout time.Duration, reason string) {
	deadline := time.After(timeout)
	drained := 0
	for {
		select {
		case rec, ok := <-output:
			if !ok {
				return
			}
			drained++
			w.write(rec)
		case <-deadline:
			w.logger.WithFields(logrus.Fields{"reason": reason, "drained": drained}).Debug("Output drainer: flush timeout")
			return
		default:
			w.logger.WithFields(logrus.Fields{"reason": reason, "drained": drained}).Debug("Output drainer: flushed")
			return
		}
	}
}
