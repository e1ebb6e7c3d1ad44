//go:build !windows

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/flipble/bridge"
	"github.com/srg/flipble/pkg/flipper"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose the Flipper console on a PTY",
	Long: `Connects to a Flipper and creates a pseudoterminal for it, so serial
terminal programs (screen, minicom, picocom) can talk to the Flipper
command line as if it were attached over USB.

Every line typed into the PTY is sent to the Flipper; everything the
Flipper prints is written to the PTY.

Example:
  flipble bridge --name Flipper
  flipble bridge --symlink /tmp/flipper && screen /tmp/flipper`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var bridgeSymlink string

// linkCheckInterval is how often the bridge looks for a lost connection
const linkCheckInterval = 250 * time.Millisecond

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g. /tmp/flipper)")
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	s, err := newSession(ctx, cmd, sessionIO{In: cmd.InOrStdin(), Out: out})
	if err != nil {
		return err
	}
	defer s.Close()
	// inbound text belongs to the PTY only
	s.terminal.SetDataWriter(io.Discard)

	if err := s.connect(ctx); err != nil {
		return err
	}

	symlink := s.cfg.Bridge.Symlink
	if cmd.Flags().Changed("symlink") {
		symlink = bridgeSymlink
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Starting bridge", "Setting up PTY", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = bridge.Run(ctx, s.transport, bridge.Options{
		Symlink:    symlink,
		InputSize:  s.cfg.Bridge.InputSize,
		OutputSize: s.cfg.Bridge.OutputSize,
		QueueDepth: s.cfg.Bridge.QueueDepth,
		Logger:     s.logger,
	}, progress.Callback(), func(b *bridge.Bridge) (struct{}, error) {
		progress.Stop()
		fmt.Fprintf(out, "PTY ready: %s\n", b.Name())
		if b.Symlink() != "" {
			fmt.Fprintf(out, "Symlink:   %s\n", b.Symlink())
		}
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		return struct{}{}, waitWhileConnected(ctx, s.transport)
	})
	return err
}

// waitWhileConnected blocks until ctx ends or the Flipper goes away
func waitWhileConnected(ctx context.Context, t *flipper.Transport) error {
	ticker := time.NewTicker(linkCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if t.State() != flipper.StateConnected {
				return ErrConnectionLost
			}
		}
	}
}
