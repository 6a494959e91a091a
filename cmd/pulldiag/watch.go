package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pulldiag/internal/progress"
	"pulldiag/internal/ui"
	"pulldiag/internal/watch"
)

var (
	watchUI     string
	watchOutput string
)

func init() {
	watchCmd.Flags().StringVar(&watchUI, "ui", "auto", "show the live pull status view (auto|on|off)")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "write a snapshot of the store on exit (.json, .mp or .msgpack)")
}

var watchCmd = &cobra.Command{
	Use:   "watch [globs...]",
	Short: "Keep files open and re-pull diagnostics whenever they are written",
	Long: `watch opens every matching file like check does and then follows writes
on disk. Every write replaces the document text, which triggers a debounced
pull for the servers attached to it.`,
	RunE: runWatch,
}

// mergeLogger reports merges when the status view is off.
type mergeLogger struct {
	log *zap.Logger
}

func (l mergeLogger) OnEvent(ev progress.Event) {
	switch {
	case ev.Stage == progress.StageMerge && ev.Status == progress.StatusDone:
		l.log.Info("diagnostics updated",
			zap.String("uri", string(ev.Resource)),
			zap.String("server", ev.Server),
			zap.Int("diagnostics", ev.Diagnostics),
			zap.Duration("elapsed", ev.Elapsed))
	case ev.Status == progress.StatusError:
		l.log.Warn("pull failed",
			zap.String("uri", string(ev.Resource)),
			zap.String("server", ev.Server),
			zap.String("stage", string(ev.Stage)),
			zap.Error(ev.Err))
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	mode, err := readUIMode(watchUI)
	if err != nil {
		return err
	}
	useTUI := shouldUseTUI(mode)

	events := make(chan progress.Event, 256)
	var sink progress.Sink = progress.ChannelSink{Ch: events}
	s, err := newSession(cmd, sink)
	if err != nil {
		return err
	}
	if !useTUI {
		sink = mergeLogger{log: s.log.Named("watch")}
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

	w, err := watch.New(s.log, func(ctx context.Context, path string) error {
		_, err := s.app.Reload(ctx, path)
		return err
	})
	if err != nil {
		return err
	}
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
			continue
		}
		if err := w.Track(path); err != nil {
			s.log.Warn("cannot watch file", zap.String("path", path), zap.Error(err))
		}
	}
	s.app.Go(w.Run)
	s.log.Info("watching", zap.Int("files", len(w.Tracked())))

	if useTUI {
		if err := runStatusView(cmd.Context(), events); err != nil {
			return err
		}
	} else {
		drainUntilDone(cmd.Context(), events, sink)
	}

	if watchOutput != "" {
		return writeSnapshot(ctx, s, watchOutput)
	}
	return nil
}

// runStatusView shows the Bubble Tea view until the user quits or ctx ends.
func runStatusView(ctx context.Context, events chan progress.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	viewEvents := make(chan progress.Event)
	go func() {
		defer close(viewEvents)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				select {
				case viewEvents <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	program := tea.NewProgram(ui.NewProgressModel("pulldiag watch", viewEvents), tea.WithOutput(os.Stdout))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("status view: %w", err)
	}
	return nil
}

// drainUntilDone forwards queued progress events to sink until ctx ends.
func drainUntilDone(ctx context.Context, events <-chan progress.Event, sink progress.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			sink.OnEvent(ev)
		}
	}
}
