package flipper

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/groutine"
)

// ErrQueueClosed is returned by SendQueue.Send after Close
var ErrQueueClosed = errors.New("send queue closed")

// Sender is anything that writes one line to the Flipper
type Sender interface {
	Send(ctx context.Context, text string) error
}

type sendJob struct {
	ctx    context.Context
	text   string
	result chan error
}

// SendQueue serializes sends through a single writer goroutine so lines
// reach the device in submission order.
type SendQueue struct {
	sender Sender
	logger *logrus.Logger
	jobs   chan sendJob

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// DefaultQueueDepth is the number of pending lines accepted before Send blocks
const DefaultQueueDepth = 64

// NewSendQueue starts the writer goroutine. depth <= 0 uses DefaultQueueDepth.
func NewSendQueue(sender Sender, depth int, logger *logrus.Logger) *SendQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &SendQueue{
		sender: sender,
		logger: logger,
		jobs:   make(chan sendJob, depth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	groutine.Go(ctx, "flipper-send-queue", q.run)
	return q
}

func (q *SendQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			// the caller gave up while the job was queued
			if err := job.ctx.Err(); err != nil {
				job.result <- err
				continue
			}
			job.result <- q.sender.Send(job.ctx, job.text)
		}
	}
}

// Send enqueues text and waits until it has been written or ctx ends
func (q *SendQueue) Send(ctx context.Context, text string) error {
	job := sendJob{ctx: ctx, text: text, result: make(chan error, 1)}

	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		// the writer may have finished this job right before stopping
		select {
		case err := <-job.result:
			return err
		default:
			return ErrQueueClosed
		}
	}
}

// Close stops the writer. Pending lines are dropped.
func (q *SendQueue) Close() {
	q.closeOnce.Do(func() {
		q.cancel()
		<-q.done
		q.logger.Debug("Send queue closed")
	})
}
