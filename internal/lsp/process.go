package lsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// ProcessConfig describes how to launch a language server.
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// Stderr receives the server's stderr; nil discards it.
	Stderr io.Writer
}

// Process is a running language server attached to a Client.
type Process struct {
	*Client
	cmd   *exec.Cmd
	stdin io.WriteCloser

	waitOnce sync.Once
	waitErr  error
}

// Spawn starts the server and wires its stdio to a new Client. The caller
// must run Client.Run to start reading responses.
func Spawn(cfg ProcessConfig, opts ClientOptions) (*Process, error) {
	if cfg.Command == "" {
		return nil, errors.New("lsp: empty server command")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	if cfg.Stderr != nil {
		cmd.Stderr = cfg.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	client := NewClient(stdout, stdin, opts)
	client.log.Debug("spawned", zap.String("command", cfg.Command), zap.Int("pid", cmd.Process.Pid))
	return &Process{Client: client, cmd: cmd, stdin: stdin}, nil
}

// Wait waits for the process to exit. It is safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Stop performs a graceful shutdown and kills the process if it does not
// exit before ctx ends.
func (p *Process) Stop(ctx context.Context) error {
	shutdownErr := p.Shutdown(ctx)
	_ = p.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		if shutdownErr != nil {
			return shutdownErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.log.Debug("server exited", zap.Int("code", exitErr.ExitCode()))
			return nil
		}
		return err
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}
