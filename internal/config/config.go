// Package config loads pulldiag.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Find.
const FileName = "pulldiag.toml"

var (
	// ErrNoServers indicates that no [[server]] entry is configured.
	ErrNoServers = errors.New("no [[server]] configured")
	// ErrNotFound is returned by Find when no configuration file exists in
	// the directory or any of its parents.
	ErrNotFound = errors.New("no " + FileName + " found")
)

// Duration is a time.Duration written as a Go duration string ("120ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the decoded pulldiag.toml.
type Config struct {
	// Path is the file the configuration was read from; empty for defaults.
	Path string `toml:"-"`
	// Root is the directory containing Path.
	Root string `toml:"-"`

	Pull    Pull     `toml:"pull"`
	Log     Log      `toml:"log"`
	Servers []Server `toml:"server"`
}

// Pull configures the debounce windows and the stale-report guard.
type Pull struct {
	ChangeDebounce Duration `toml:"change_debounce"`
	OpenDebounce   Duration `toml:"open_debounce"`
	DiscardStale   bool     `toml:"discard_stale"`
}

// Log configures the logger.
type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Server describes one language server to launch.
type Server struct {
	Name       string            `toml:"name"`
	Command    string            `toml:"command"`
	Args       []string          `toml:"args"`
	Env        map[string]string `toml:"env"`
	Extensions []string          `toml:"extensions"`
	LanguageID string            `toml:"language_id"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Pull: Pull{
			ChangeDebounce: Duration{120 * time.Millisecond},
			OpenDebounce:   Duration{50 * time.Millisecond},
		},
		Log: Log{Level: "info"},
	}
}

// Find walks up from startDir looking for pulldiag.toml.
func Find(startDir string) (string, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load decodes path on top of Default and validates the result. Keys left
// out of the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		if srv.LanguageID == "" && len(srv.Extensions) > 0 {
			srv.LanguageID = strings.TrimPrefix(srv.Extensions[0], ".")
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	cfg.Path = abs
	cfg.Root = filepath.Dir(abs)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first problem found in cfg.
func (c Config) Validate() error {
	if c.Pull.ChangeDebounce.Duration <= 0 {
		return fmt.Errorf("[pull].change_debounce must be positive, got %s", c.Pull.ChangeDebounce)
	}
	if c.Pull.OpenDebounce.Duration <= 0 {
		return fmt.Errorf("[pull].open_debounce must be positive, got %s", c.Pull.OpenDebounce)
	}
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i, srv := range c.Servers {
		name := strings.TrimSpace(srv.Name)
		if name == "" {
			return fmt.Errorf("[[server]] #%d: missing name", i+1)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("[[server]] %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(srv.Command) == "" {
			return fmt.Errorf("[[server]] %q: missing command", name)
		}
		if len(srv.Extensions) == 0 {
			return fmt.Errorf("[[server]] %q: missing extensions", name)
		}
	}
	return nil
}

// Environ merges the server's env table into base, sorted by key for the
// appended entries. It returns nil when the table is empty so the child
// inherits the parent environment.
func (s Server) Environ(base []string) []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := slices.Clone(base)
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}
