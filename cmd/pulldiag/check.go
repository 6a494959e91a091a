package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pulldiag/internal/editor"
	"pulldiag/internal/observ"
	"pulldiag/internal/progress"
	"pulldiag/internal/snapshot"
)

// errDiagnosticsFound makes check exit non-zero under --fail-on-error.
var errDiagnosticsFound = errors.New("error diagnostics found")

var (
	checkSettle      time.Duration
	checkTimeout     time.Duration
	checkOutput      string
	checkFailOnError bool
)

func init() {
	checkCmd.Flags().DurationVar(&checkSettle, "settle", 300*time.Millisecond, "how long the pipeline must stay idle before results are printed")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 60*time.Second, "give up waiting for diagnostics after this long")
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "", "also write a snapshot of the store (.json, .mp or .msgpack)")
	checkCmd.Flags().BoolVar(&checkFailOnError, "fail-on-error", false, "exit with status 1 when any error diagnostic is reported")
}

var checkCmd = &cobra.Command{
	Use:   "check [globs...]",
	Short: "Open files, pull their diagnostics once and print them",
	Long: `check opens every matching file in the configured language servers,
waits until all debounced pulls have been answered and prints the merged
diagnostics. Globs are doublestar patterns; the default is every file under
the project root that a server handles.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	flags := cmd.Root().PersistentFlags()
	maxDiagnostics, err := flags.GetInt("max-diagnostics")
	if err != nil {
		return fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	showTimings, err := flags.GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	timer := observ.NewTimer()
	phase := timer.Begin("start")
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, err := s.start(cmd.Context())
	defer func() {
		if closeErr := s.close(); closeErr != nil {
			s.log.Warn("shutdown", zap.Error(closeErr))
		}
	}()
	if err != nil {
		return err
	}
	timer.End(phase, fmt.Sprintf("%d servers", len(s.procs)))

	phase = timer.Begin("open")
	files, err := collectFiles(s.cfg.Root, args, func(path string) bool {
		_, servers := s.app.ServersFor(path)
		return len(servers) > 0
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files matched a configured server")
	}
	for _, path := range files {
		if _, err := s.app.Open(ctx, path); err != nil {
			s.log.Warn("skip file", zap.String("path", path), zap.Error(err))
		}
	}
	timer.End(phase, fmt.Sprintf("%d files", len(files)))

	phase = timer.Begin("settle")
	waitCtx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()
	if err := s.app.WaitSettled(waitCtx, checkSettle); err != nil {
		return fmt.Errorf("waiting for diagnostics: %w", err)
	}
	timer.End(phase, "")

	store, err := s.app.Diagnostics(ctx)
	if err != nil {
		return err
	}
	cwd, _ := os.Getwd()
	counts, err := renderDiagnostics(cmd.OutOrStdout(), store, renderOptions{cwd: cwd, max: maxDiagnostics, names: s.serverNames()})
	if err != nil {
		return err
	}

	if checkOutput != "" {
		if err := writeSnapshot(ctx, s, checkOutput); err != nil {
			return err
		}
	}
	if showTimings {
		printTimings(cmd.ErrOrStderr(), timer, s.collector.Timings())
	}
	if checkFailOnError && counts.errors > 0 {
		return errDiagnosticsFound
	}
	return nil
}

// writeSnapshot captures the store on the owner loop and writes it to path.
func writeSnapshot(ctx context.Context, s *session, path string) error {
	var snap snapshot.Snapshot
	err := s.app.Do(ctx, func(ed *editor.Editor) error {
		snap = snapshot.Capture(ed, s.serverNames(), time.Now().UTC())
		return nil
	})
	if err != nil {
		return err
	}
	if err := snapshot.WriteFile(path, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.log.Info("snapshot written", zap.String("path", path), zap.Int("diagnostics", snap.Count()))
	return nil
}

func printTimings(out io.Writer, timer *observ.Timer, stages progress.Timings) {
	for _, stage := range []progress.Stage{progress.StageRequest, progress.StageParse, progress.StageMerge} {
		if n := stages.Count(stage); n > 0 {
			timer.Record(string(stage), stages.Duration(stage), fmt.Sprintf("%d items, mean %s", n, stages.Mean(stage).Round(time.Microsecond)))
		}
	}
	fmt.Fprint(out, timer.Summary())
}
