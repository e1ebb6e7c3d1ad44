// Package chooser provides the device.Chooser implementations offered by the CLI.
package chooser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/srg/flipble/internal/device"
)

// Address picks the candidate with the given address. The scan stops as soon as it is seen.
type Address string

func (a Address) Targets(adv device.Advertisement) bool {
	return strings.EqualFold(adv.Address, string(a))
}

func (a Address) Choose(_ context.Context, candidates []device.Advertisement) (device.Advertisement, error) {
	for _, c := range candidates {
		if a.Targets(c) {
			return c, nil
		}
	}
	return device.Advertisement{}, fmt.Errorf("%w: address %s not seen", device.ErrNoDevice, string(a))
}

// Name picks the strongest candidate whose local name contains the given text, case-insensitively
type Name string

func (n Name) Targets(adv device.Advertisement) bool {
	return adv.Name != "" && strings.Contains(strings.ToLower(adv.Name), strings.ToLower(string(n)))
}

func (n Name) Choose(_ context.Context, candidates []device.Advertisement) (device.Advertisement, error) {
	for _, c := range candidates {
		if n.Targets(c) {
			return c, nil
		}
	}
	return device.Advertisement{}, fmt.Errorf("%w: no device named %q", device.ErrNoDevice, string(n))
}

// Strongest picks the first candidate. Candidates arrive sorted by signal strength.
type Strongest struct{}

func (Strongest) Choose(_ context.Context, candidates []device.Advertisement) (device.Advertisement, error) {
	if len(candidates) == 0 {
		return device.Advertisement{}, device.ErrNoDevice
	}
	return candidates[0], nil
}

// Prompt lists the candidates and reads the user's pick.
// An empty line, "q" or end of input cancels.
type Prompt struct {
	In  io.Reader
	Out io.Writer
	// Lines, when set, replaces In as the source of answers. A closed channel is end of input.
	Lines <-chan string
}

func (p *Prompt) Choose(ctx context.Context, candidates []device.Advertisement) (device.Advertisement, error) {
	if len(candidates) == 0 {
		return device.Advertisement{}, device.ErrNoDevice
	}

	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)
	_, _ = header.Fprintln(p.Out, "Select a device:")
	for i, c := range candidates {
		name := c.Name
		if name == "" {
			name = "(unnamed)"
		}
		_, _ = fmt.Fprintf(p.Out, "  %2d) %-24s %s %s\n", i+1, name, c.Address, dim.Sprintf("%d dBm", c.RSSI))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := p.Lines
	if lines == nil {
		lines = readLines(ctx, p.In)
	}

	for {
		_, _ = fmt.Fprintf(p.Out, "Choice [1-%d, q to cancel]: ", len(candidates))
		var line string
		select {
		case <-ctx.Done():
			return device.Advertisement{}, fmt.Errorf("%w: %v", device.ErrCancelled, ctx.Err())
		case l, ok := <-lines:
			if !ok {
				return device.Advertisement{}, fmt.Errorf("%w: end of input", device.ErrCancelled)
			}
			line = strings.TrimSpace(l)
		}

		if line == "" || strings.EqualFold(line, "q") {
			return device.Advertisement{}, device.ErrCancelled
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(candidates) {
			_, _ = fmt.Fprintf(p.Out, "Invalid choice %q\n", line)
			continue
		}
		return candidates[n-1], nil
	}
}

// readLines feeds r line by line until end of input or ctx ends
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

// New returns the chooser for the CLI flags: an address wins over a name;
// with neither, interactive prompts the user and otherwise the strongest signal wins.
func New(address, name string, interactive bool, in io.Reader, out io.Writer) device.Chooser {
	switch {
	case address != "":
		return Address(address)
	case name != "":
		return Name(name)
	case interactive:
		return &Prompt{In: in, Out: out}
	default:
		return Strongest{}
	}
}
