package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/flipble/pkg/flipper"
)

var termCmd = &cobra.Command{
	Use:     "term",
	Aliases: []string{"console"},
	Short:   "Interactive Flipper console",
	Long: `Connects to a Flipper and forwards every typed line to its command line.
Replies are printed as they arrive.

Local commands start with '!':
  !connect      connect again after a failure or disconnect
  !disconnect   close the connection and stay in the console
  !debug        toggle debug messages
  !help         list local commands and macros
  !quit         leave the console
  !<macro>      send the command configured under macros.<macro>

Example:
  flipble term --name Flipper
  flipble term --config ~/.flipble.yaml --activation descriptor`,
	Args: cobra.NoArgs,
	RunE: runTerm,
}

var termNoConnect bool

func init() {
	termCmd.Flags().BoolVar(&termNoConnect, "no-connect", false, "Start disconnected and wait for !connect")
}

func runTerm(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	lines := scanLines(ctx, cmd.InOrStdin())
	s, err := newSession(ctx, cmd, sessionIO{In: cmd.InOrStdin(), Out: cmd.OutOrStdout(), Lines: lines})
	if err != nil {
		return err
	}
	defer s.Close()

	queue := flipper.NewSendQueue(s.transport, s.cfg.Bridge.QueueDepth, s.logger)
	defer queue.Close()

	c := &console{session: s, queue: queue, out: cmd.OutOrStdout()}
	return c.run(ctx, lines, !termNoConnect)
}

// scanLines reads r line by line on its own goroutine
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// console dispatches typed lines to local commands or the Flipper
type console struct {
	*session
	queue *flipper.SendQueue
	out   io.Writer
}

func (c *console) run(ctx context.Context, lines <-chan string, autoConnect bool) error {
	if autoConnect {
		_ = c.connect(ctx)
	} else {
		c.terminal.Log(flipper.TagInfo, "Type !connect to connect, !help for commands")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the console should exit
func (c *console) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "!") {
		c.send(ctx, line)
		return false
	}

	name := strings.TrimSpace(strings.TrimPrefix(line, "!"))
	switch name {
	case "quit", "exit", "q":
		return true
	case "connect":
		if c.transport.State() != flipper.StateDisconnected {
			c.terminal.Log(flipper.TagInfo, "Already connected")
			return false
		}
		_ = c.connect(ctx)
	case "disconnect":
		if c.transport.State() == flipper.StateDisconnected {
			c.terminal.Log(flipper.TagInfo, "Not connected")
			return false
		}
		if err := c.transport.Disconnect(); err != nil {
			c.terminal.Log(flipper.TagError, "Disconnect failed: "+err.Error())
		}
	case "debug":
		c.cfg.Debug = !c.cfg.Debug
		c.terminal.SetDebug(c.cfg.Debug)
		c.terminal.Log(flipper.TagInfo, fmt.Sprintf("Debug messages %s", onOff(c.cfg.Debug)))
	case "help", "?":
		c.help()
	default:
		cmd, ok := c.cfg.Macros[name]
		if !ok {
			c.terminal.Log(flipper.TagWarn, fmt.Sprintf("Unknown command !%s, try !help", name))
			return false
		}
		c.terminal.Log(flipper.TagDebug, fmt.Sprintf("Macro %s: %s", name, cmd))
		c.send(ctx, cmd)
	}
	return false
}

// send queues a line; failures are already reported by the transport
func (c *console) send(ctx context.Context, line string) {
	if err := c.queue.Send(ctx, line); err != nil {
		c.logger.WithError(err).Debug("Line not sent")
	}
}

func (c *console) help() {
	var b strings.Builder
	b.WriteString("Local commands: !connect !disconnect !debug !help !quit")
	if len(c.cfg.Macros) > 0 {
		names := make([]string, 0, len(c.cfg.Macros))
		for n := range c.cfg.Macros {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("\nMacros:")
		for _, n := range names {
			fmt.Fprintf(&b, "\n  !%-12s %s", n, c.cfg.Macros[n])
		}
	}
	c.terminal.Log(flipper.TagInfo, b.String())
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
