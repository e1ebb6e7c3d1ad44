package lua

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// RunOptions control a single script run
type RunOptions struct {
	Name   string            // chunk name used in error messages
	Args   map[string]string // exposed as the global table arg
	Stdout io.Writer
	Stderr io.Writer
	// Linger keeps delivering inbound chunks to on_data after the script returns
	Linger time.Duration
}

// RunScript executes script against console with output streamed to the writers
func RunScript(ctx context.Context, console Console, script string, opts RunOptions, logger *logrus.Logger) error {
	if logger == nil {
		logger = discardLogger()
	}
	if opts.Name == "" {
		opts.Name = "script"
	}

	engine := NewEngine(logger)
	defer engine.Close()

	api := NewFlipperAPI(ctx, engine, console, logger)
	defer api.Close()

	engine.SetArgs(opts.Args)

	drainer := NewOutputDrainer(ctx, engine.Output(), opts.Stdout, opts.Stderr, logger)
	defer drainer.Wait()
	defer drainer.Stop()

	logger.WithFields(logrus.Fields{
		"script": opts.Name,
		"size":   len(script),
		"args":   len(opts.Args),
	}).Debug("Starting Lua script")

	if err := engine.Run(script, opts.Name); err != nil {
		return fmt.Errorf("script failed: %w", err)
	}
	api.Drain(opts.Linger)
	return nil
}
