package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pulldiag/internal/trace"
)

// setupTracing inspects trace-related flags, initializes the tracer and
// attaches it to the command context. The returned cleanup dumps the ring
// buffer when requested, then flushes and closes the tracer.
func setupTracing(cmd *cobra.Command) (func() error, error) {
	flags := cmd.Root().PersistentFlags()

	traceOutput, err := flags.GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := flags.GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := flags.GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	formatStr, err := flags.GetString("trace-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	dumpPath, err := flags.GetString("trace-dump")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-dump flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	// An output without an explicit level traces whole cycles.
	if level == trace.LevelOff && traceOutput != "" && !flags.Changed("trace-level") {
		level = trace.LevelCycle
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() error { return nil }, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}
	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace format: %w", err)
	}
	if mode != trace.ModeRing && traceOutput == "" {
		traceOutput = "-"
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: traceOutput,
		RingSize:   ringSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	cleanup := func() error {
		var errs []error
		if dumpPath != "" {
			errs = append(errs, dumpRing(tracer, dumpPath, format))
		}
		errs = append(errs, tracer.Flush(), tracer.Close())
		return errors.Join(errs...)
	}
	return cleanup, nil
}

func dumpRing(tracer trace.Tracer, path string, format trace.Format) error {
	var ring *trace.RingTracer
	switch t := tracer.(type) {
	case *trace.RingTracer:
		ring = t
	case *trace.MultiTracer:
		ring, _ = t.Ring()
	}
	if ring == nil {
		return errors.New("--trace-dump needs --trace-mode ring or both")
	}
	format = trace.ResolveFormat(format, path)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trace dump: %w", err)
	}
	if err := ring.Dump(f, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("trace dump: %w", err)
	}
	return f.Close()
}
