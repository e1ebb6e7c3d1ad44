package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flipble",
	Short: "Flipper Zero serial console over Bluetooth LE",
	Long: `Talk to a Flipper Zero's command line over Bluetooth Low Energy:

- Interactive terminal with colour-tagged output and command macros
- One-shot command sending for shell scripts
- Scan for nearby Flippers
- Bridge the console to a PTY for serial terminal programs
- Lua scripting against the console

Connection problems come with a hint: wrong device, notification
activation, or a stale OS Bluetooth cache.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode prints err unless it was already shown and maps it to a process status
func exitCode(err error) int {
	// Ctrl+C is a normal exit, not an error
	if errors.Is(err, context.Canceled) {
		return 0
	}
	var shown *reportedError
	if !errors.As(err, &shown) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
	}
	return 1
}

func init() {
	// main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("flipble %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(termCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runCmd)

	addGlobalFlags(rootCmd)

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
