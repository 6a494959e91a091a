package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"pulldiag/internal/app"
	"pulldiag/internal/config"
	"pulldiag/internal/handlers"
	"pulldiag/internal/logging"
	"pulldiag/internal/lsp"
	"pulldiag/internal/progress"
	"pulldiag/internal/trace"
	"pulldiag/internal/version"
)

const (
	initializeTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// session is one configured pipeline with its language server processes.
type session struct {
	cfg       config.Config
	log       *zap.Logger
	app       *app.App
	collector *progress.Collector
	procs     []*lsp.Process
	names     map[lsp.ServerID]string

	cancel context.CancelFunc
}

// loadConfig reads --config or the nearest pulldiag.toml.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		path, err = config.Find(".")
		if errors.Is(err, config.ErrNotFound) {
			return config.Config{}, fmt.Errorf("%w\nplease create one or pass --config", err)
		}
		if err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}

func newLogger(cmd *cobra.Command, cfg config.Config) (*zap.Logger, error) {
	flags := cmd.Root().PersistentFlags()
	level, err := flags.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	file, err := flags.GetString("log-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-file flag: %w", err)
	}
	if level == "" {
		level = cfg.Log.Level
	}
	if file == "" {
		file = cfg.Log.File
	}
	log, closeLog, err := logging.New(logging.Options{
		Level:   level,
		File:    file,
		Console: cmd.ErrOrStderr(),
		Color:   isTerminal(os.Stderr),
	})
	if err != nil {
		return nil, err
	}
	deferCleanup(closeLog)
	return log, nil
}

// newSession loads the configuration and builds the pipeline. Extra sinks
// receive every progress event next to the session's own collector.
func newSession(cmd *cobra.Command, sinks ...progress.Sink) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	collector := &progress.Collector{}
	a := app.New(app.Options{
		Logger: log,
		Handlers: handlers.Options{
			ChangeDebounce: cfg.Pull.ChangeDebounce.Duration,
			OpenDebounce:   cfg.Pull.OpenDebounce.Duration,
			DiscardStale:   cfg.Pull.DiscardStale,
			Progress:       append(progress.Multi{collector}, sinks...),
			Tracer:         trace.FromContext(cmd.Context()),
		},
	})
	return &session{
		cfg:       cfg,
		log:       log,
		app:       a,
		collector: collector,
		names:     make(map[lsp.ServerID]string),
	}, nil
}

// start runs the pipeline and launches every configured server. Servers
// that fail to start are logged and skipped; having none left is an error.
// The pipeline ignores cancellation of ctx and lives until close, so that
// a final snapshot can still be taken after an interrupt.
func (s *session) start(ctx context.Context) (context.Context, error) {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	gctx := s.app.Start(ctx)

	rootURI, err := lsp.PathToURI(s.cfg.Root)
	if err != nil {
		return nil, err
	}
	for i, srv := range s.cfg.Servers {
		id := lsp.ServerID(i + 1)
		if err := s.launch(gctx, id, srv, rootURI); err != nil {
			s.log.Error("language server unavailable", zap.String("server", srv.Name), zap.Error(err))
			continue
		}
		s.names[id] = srv.Name
	}
	if len(s.procs) == 0 {
		return nil, errors.New("no language server could be started")
	}
	return gctx, nil
}

func (s *session) launch(ctx context.Context, id lsp.ServerID, srv config.Server, rootURI lsp.DocumentURI) error {
	log := s.log.Named("lsp").With(zap.String("server", srv.Name))
	stderr := &zapio.Writer{Log: log, Level: zap.DebugLevel}
	proc, err := lsp.Spawn(lsp.ProcessConfig{
		Command: srv.Command,
		Args:    srv.Args,
		Dir:     s.cfg.Root,
		Env:     srv.Environ(os.Environ()),
		Stderr:  stderr,
	}, lsp.ClientOptions{
		ID:        id,
		Name:      srv.Name,
		Logger:    s.log.Named("lsp"),
		OnRefresh: s.app.Handlers.RefreshServer,
	})
	if err != nil {
		return err
	}
	s.app.Go(func(ctx context.Context) error {
		if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("connection lost", zap.Error(err))
		}
		return stderr.Close()
	})

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	err = proc.Initialize(initCtx, lsp.InitializeOptions{
		RootURI:       rootURI,
		ClientName:    "pulldiag",
		ClientVersion: version.Version,
	})
	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		_ = proc.Stop(stopCtx)
		return fmt.Errorf("initialize: %w", err)
	}
	if !proc.SupportsFeature(lsp.FeaturePullDiagnostics) {
		log.Warn("server does not advertise pull diagnostics; its documents are opened but never pulled")
	}
	s.procs = append(s.procs, proc)
	s.app.AddServer(proc.Client, srv.LanguageID, srv.Extensions...)
	return nil
}

// close shuts the servers down while the pipeline still reads their
// responses, then stops the pipeline.
func (s *session) close() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, proc := range s.procs {
		// A connection already closed by cancellation has nothing to shut down.
		if err := proc.Stop(stopCtx); err != nil && !errors.Is(err, lsp.ErrClosed) {
			errs = append(errs, fmt.Errorf("stop %s: %w", proc.Name(), err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	errs = append(errs, s.app.Wait())
	return errors.Join(errs...)
}

// serverNames returns a copy of the id to name table.
func (s *session) serverNames() map[lsp.ServerID]string {
	out := make(map[lsp.ServerID]string, len(s.names))
	for id, name := range s.names {
		out[id] = name
	}
	return out
}
