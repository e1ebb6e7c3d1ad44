package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter rewrites one status line with the current phase and a timer.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to Flipper", "Scanning", "Connected")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	countdown  time.Duration // zero counts up

	startTime time.Time
	started   atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed seconds.
// Reaching one of stopPhases through Callback stops it.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter shows the seconds remaining of d instead
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, d time.Duration, stopPhases ...string) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase, stopPhases...)
	p.countdown = d
	return p
}

// Start begins updating the line. Panics when called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.print(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, ok := p.stopPhases[phase]; ok {
					return
				}
				p.print(phase, p.seconds())
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countdown <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a phase setter; a stop phase stops the printer
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop ends the updates and clears the line
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
