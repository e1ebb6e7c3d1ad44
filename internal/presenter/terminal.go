// Package presenter holds the flipper.Presenter sinks used by the CLI.
package presenter

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/flipble/pkg/flipper"
)

const (
	BannerConnected    = ">>> CONNECTION ACTIVE <<<"
	BannerDisconnected = ">>> CONNECTION INTERRUPTED <<<"
)

// Terminal writes tagged messages to a console in per-tag colours.
// Data chunks are written verbatim, every other message ends with a newline.
type Terminal struct {
	out     io.Writer
	dataOut io.Writer // nil: data goes to out
	debug   bool
	colors map[flipper.Tag]*color.Color

	mu sync.Mutex
}

// NewTerminal creates a console sink. With useColor false no escape sequences are written.
func NewTerminal(out io.Writer, debug, useColor bool) *Terminal {
	colors := map[flipper.Tag]*color.Color{
		flipper.TagData:    color.New(color.FgHiCyan),
		flipper.TagInfo:    color.New(color.FgHiBlack),
		flipper.TagSuccess: color.New(color.FgHiGreen),
		flipper.TagError:   color.New(color.FgRed),
		flipper.TagWarn:    color.New(color.FgYellow),
		flipper.TagDebug:   color.New(color.FgHiMagenta),
	}
	for _, c := range colors {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &Terminal{out: out, debug: debug, colors: colors}
}

// SetDebug toggles rendering of debug messages
func (t *Terminal) SetDebug(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debug = on
}

// SetDataWriter sends data chunks, uncoloured, to w instead of the console
func (t *Terminal) SetDataWriter(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataOut = w
}

func (t *Terminal) Log(tag flipper.Tag, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tag == flipper.TagData && t.dataOut != nil {
		_, _ = io.WriteString(t.dataOut, text)
		return
	}

	if tag == flipper.TagDebug {
		if !t.debug {
			return
		}
		text = "[DEBUG] " + text
	}
	c, ok := t.colors[tag]
	if !ok {
		c = t.colors[flipper.TagInfo]
	}

	_, _ = c.Fprint(t.out, text)
	if tag != flipper.TagData {
		_, _ = fmt.Fprintln(t.out)
	}
}

func (t *Terminal) ConnectionChanged(connected bool, name string) {
	if connected {
		if name == "" {
			name = "Flipper"
		}
		t.Log(flipper.TagSuccess, "Connected: "+name)
		t.Log(flipper.TagSuccess, BannerConnected+"\n")
		return
	}
	t.Log(flipper.TagWarn, "\n"+BannerDisconnected+"\n")
}
