package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/flipble"
	"github.com/srg/flipble/internal/lua"
)

var runCmd = &cobra.Command{
	Use:   "run <script.lua> [key=value...]",
	Short: "Run a Lua script against the Flipper console",
	Long: `Connects to a Flipper and runs a Lua script with these globals:

  flipper.send(line)             send one command line; returns true or nil, error
  flipper.on_data(fn)            call fn(chunk) for every inbound chunk; nil removes it
  flipper.expect(text, ms)       wait up to ms for text; returns what arrived or nil, "timeout"
  flipper.connected()            whether the link is up
  sleep(ms)                      wait, delivering inbound chunks to on_data
  arg                            table of the key=value arguments

print() goes to stdout, script errors to stderr. A name starting with '@'
runs a built-in script (@blink, @info).

Example:
  flipble run blink.lua color=g times=3
  flipble run @info cmd="power info"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runLinger time.Duration
	runEcho   bool
)

func init() {
	runCmd.Flags().DurationVar(&runLinger, "linger", 500*time.Millisecond, "Keep delivering replies to on_data after the script returns")
	runCmd.Flags().BoolVar(&runEcho, "echo", false, "Also print raw Flipper output on stdout")
}

// parseScriptArgs turns key=value pairs into the arg table
func parseScriptArgs(pairs []string) (map[string]string, error) {
	args := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid script argument %q (want key=value)", p)
		}
		args[k] = v
	}
	return args, nil
}

// loadScript reads a script file or resolves an @name built-in
func loadScript(name string) (string, error) {
	if strings.HasPrefix(name, flipble.ScriptPrefix) {
		script, ok := flipble.BuiltinScript(name)
		if !ok {
			return "", fmt.Errorf("unknown built-in script %s (available: @%s)", name, strings.Join(flipble.BuiltinScripts(), ", @"))
		}
		return script, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	scriptArgs, err := parseScriptArgs(args[1:])
	if err != nil {
		return err
	}
	script, err := loadScript(path)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, cmd, sessionIO{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer s.Close()

	var data io.Writer = io.Discard
	if runEcho {
		data = cmd.OutOrStdout()
	}
	s.terminal.SetDataWriter(data)

	if err := s.connect(ctx); err != nil {
		return err
	}

	err = lua.RunScript(ctx, s.transport, script, lua.RunOptions{
		Name:   path,
		Args:   scriptArgs,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Linger: runLinger,
	}, s.logger)
	if err != nil {
		// the engine already printed the script error
		return &reportedError{err}
	}
	return nil
}
