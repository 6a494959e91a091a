package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pulldiag/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "pulldiag",
	Short: "Pull diagnostics from language servers",
	Long: `pulldiag opens files in language servers, pulls their diagnostics with
debounced textDocument/diagnostic requests and prints or watches the result.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupRun,
	PersistentPostRunE: func(*cobra.Command, []string) error { return runCleanups() },
}

// cleanups run in reverse order after the command finished, including on
// error paths that skip PersistentPostRunE.
var cleanups []func() error

func deferCleanup(fn func() error) {
	cleanups = append(cleanups, fn)
}

func runCleanups() error {
	var first error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil && first == nil {
			first = err
		}
	}
	cleanups = nil
	return first
}

// main registers subcommands and persistent flags, then executes the root
// command. A failing command exits with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to pulldiag.toml (default: search upwards from the working directory)")
	flags.String("log-level", "", "log level (debug|info|warn|error), overrides [log].level")
	flags.String("log-file", "", "write JSON logs to this rotated file, overrides [log].file")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("timings", false, "show timing information")
	flags.Int("max-diagnostics", 100, "maximum number of diagnostics to show (0 = unlimited)")

	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|cycle|request|debug)")
	flags.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	flags.String("trace-format", "auto", "trace format (auto|text|ndjson)")
	flags.Int("trace-ring-size", 4096, "ring buffer capacity for ring and both modes")
	flags.String("trace-dump", "", "dump the trace ring buffer to this file on exit")

	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	if cleanupErr := runCleanups(); cleanupErr != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", cleanupErr)
	}
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setupRun(cmd *cobra.Command, _ []string) error {
	if err := setupColor(cmd); err != nil {
		return err
	}
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	deferCleanup(stopProfiling)
	stopTracing, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	deferCleanup(stopTracing)
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
