package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/pkg/flipper"
	"github.com/srg/flipble/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby Flippers",
	Long: `Scans for Bluetooth LE advertisements and lists the devices that
advertise the Flipper serial service. With --all every device is listed.

Example:
  flipble scan
  flipble scan --all --duration 5s --json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
	scanJSON     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every device, not only Flippers")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print JSON instead of a table")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	platform, err := newPlatform(cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := platform.Available(); err != nil {
		return fmt.Errorf("bluetooth unavailable: %w", err)
	}
	source, err := platform.Scanner(flipper.ServiceUUID)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}
	s, err := scanner.NewScanner(source, logger)
	if err != nil {
		return err
	}

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: true,
		Request: device.RequestOptions{
			AcceptAll: scanAll,
			Services:  []string{flipper.ServiceUUID},
		},
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for Flippers", "Scanning", scanDuration, "Processing results")
	progress.Start()
	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	if scanJSON {
		return writeDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return writeDevicesTable(cmd.OutOrStdout(), devices)
}

func writeDevicesJSON(w io.Writer, devices []device.Advertisement) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scanner.Ordered(devices))
}

func writeDevicesTable(w io.Writer, devices []device.Advertisement) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tFLIPPER")
	fmt.Fprintln(tw, strings.Repeat("-", 60))
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		flip := ""
		if d.HasService(flipper.ServiceUUID) {
			flip = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\n", name, d.Address, d.RSSI, flip)
	}
	return tw.Flush()
}
