package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/flipble/pkg/flipper"
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [command...]",
	Short: "Send commands to a Flipper and print the replies",
	Long: `Connects, sends each command as one line, prints what the Flipper
answers on stdout and disconnects. Status messages go to stderr.

Without --until every command is sent at once and replies are collected
for --wait. With --until each command waits for that text (usually the
">: " prompt) before the next one is sent.

Example:
  flipble send --name Flipper "led r 255"
  flipble send --until ">: " device_info "storage list /ext"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var (
	sendWait  time.Duration
	sendUntil string
	sendQuiet bool
)

func init() {
	sendCmd.Flags().DurationVar(&sendWait, "wait", time.Second, "How long to collect replies (per command with --until)")
	sendCmd.Flags().StringVar(&sendUntil, "until", "", "Wait for this text after each command")
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "Suppress status messages")
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendWait < 0 {
		return fmt.Errorf("--wait must not be negative")
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var status io.Writer = cmd.ErrOrStderr()
	if sendQuiet {
		status = io.Discard
	}
	s, err := newSession(ctx, cmd, sessionIO{In: cmd.InOrStdin(), Out: status})
	if err != nil {
		return err
	}
	defer s.Close()
	s.terminal.SetDataWriter(cmd.OutOrStdout())

	if err := s.connect(ctx); err != nil {
		return err
	}

	replies := newReplyCollector(sendUntil)
	defer s.transport.OnData(replies.add)()

	for _, line := range args {
		replies.reset()
		if err := s.transport.Send(ctx, line); err != nil {
			return &reportedError{err}
		}
		if sendUntil == "" {
			continue
		}
		if err := replies.wait(ctx, sendWait); err != nil {
			return err
		}
		if !replies.matched() {
			s.logger.WithField("command", line).Warn("Reply marker not seen before timeout")
		}
	}
	if sendUntil == "" {
		if err := replies.wait(ctx, sendWait); err != nil {
			return err
		}
	}

	if s.transport.State() != flipper.StateConnected {
		return ErrConnectionLost
	}
	return nil
}

// replyCollector watches inbound text for a marker
type replyCollector struct {
	marker string

	mu    sync.Mutex
	text  strings.Builder
	found bool
	seen  chan struct{}
}

func newReplyCollector(marker string) *replyCollector {
	return &replyCollector{marker: marker, seen: make(chan struct{}, 1)}
}

func (r *replyCollector) add(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.WriteString(chunk)
	if r.marker != "" && !r.found && strings.Contains(r.text.String(), r.marker) {
		r.found = true
		select {
		case r.seen <- struct{}{}:
		default:
		}
	}
}

func (r *replyCollector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.Reset()
	r.found = false
	select {
	case <-r.seen:
	default:
	}
}

func (r *replyCollector) matched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.found
}

// wait returns once the marker was seen, d elapsed or ctx ended
func (r *replyCollector) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.seen:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
