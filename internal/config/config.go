// Package config loads ~/.granary/config.toml: the global table of named
// runner definitions a Worker's RunnerName can reference, plus a handful of
// daemon-wide defaults. Granary has no CLI flag surface to unify with file
// and env config (spec.md Non-goals excludes the CLI), so this package
// skips viper in favor of a plain TOML file with a thin env overlay and an
// fsnotify watch for hot reload while the daemon is running.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// Runner is a named, reusable command template a Worker can reference by
// RunnerName instead of repeating Command/Args inline.
type Runner struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// Defaults holds daemon-wide settings. The daemon applies ShutdownGraceSecs
// and RunnerGraceSecs at startup; PollCooldownSecs, Concurrency and
// MaxAttempts are parsed and env-overridable but no caller reads them.
type Defaults struct {
	PollCooldownSecs int64 `toml:"poll_cooldown_secs"`
	Concurrency      int   `toml:"concurrency"`
	MaxAttempts      int   `toml:"max_attempts"`
	// ShutdownGraceSecs bounds how long the daemon waits for worker
	// runtimes and their children to exit on a graceful shutdown
	// request before killing the remainder (spec.md §5).
	ShutdownGraceSecs int `toml:"shutdown_grace_secs"`
	// RunnerGraceSecs bounds TERM-to-KILL escalation for a single run.
	RunnerGraceSecs int `toml:"runner_grace_secs"`
}

// Config is the parsed contents of config.toml.
type Config struct {
	Defaults Defaults          `toml:"defaults"`
	Runners  map[string]Runner `toml:"runners"`
}

// defaultConfig matches the constants named throughout spec.md: 300s poll
// cooldown, concurrency 1, 3 attempts, 10s daemon shutdown grace, 5s
// per-run TERM-to-KILL grace.
func defaultConfig() Config {
	return Config{
		Defaults: Defaults{
			PollCooldownSecs: 300,
			Concurrency:      1,
			MaxAttempts:      3,
			ShutdownGraceSecs: 10,
			RunnerGraceSecs:   5,
		},
		Runners: map[string]Runner{},
	}
}

// Path returns the default config file location, ~/.granary/config.toml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".granary", "config.toml"), nil
}

// Load reads and parses path, applying env var overrides. A missing file is
// not an error: it returns defaultConfig() as-is, since a daemon with no
// global runner definitions configured is a valid starting state.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverlay(&cfg)
	if cfg.Runners == nil {
		cfg.Runners = map[string]Runner{}
	}
	return cfg, nil
}

// applyEnvOverlay lets a handful of GRANARY_-prefixed env vars override the
// file-loaded defaults, matching the teacher's env-overlay-over-file
// precedence without pulling in a full flag/env/file unification library.
func applyEnvOverlay(cfg *Config) {
	if v, ok := os.LookupEnv("GRANARY_POLL_COOLDOWN_SECS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Defaults.PollCooldownSecs = n
		}
	}
	if v, ok := os.LookupEnv("GRANARY_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.Concurrency = n
		}
	}
	if v, ok := os.LookupEnv("GRANARY_MAX_ATTEMPTS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MaxAttempts = n
		}
	}
	if v, ok := os.LookupEnv("GRANARY_SHUTDOWN_GRACE_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.ShutdownGraceSecs = n
		}
	}
}

// Resolve looks up a named runner definition.
func (c Config) Resolve(name string) (Runner, bool) {
	r, ok := c.Runners[name]
	return r, ok
}

// Watcher holds a hot-reloadable Config, refreshed from disk whenever
// config.toml changes, matching the teacher's fsnotify-based config watch
// (cmd/bd/daemon_watcher.go) adapted to this smaller config surface.
type Watcher struct {
	path string

	mu  sync.RWMutex
	cfg Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and starts watching its parent directory for
// changes. Callers must call Close when done.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{path: path, cfg: cfg, watcher: fw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			debounce.Reset(100 * time.Millisecond)
		case <-debounce.C:
			if cfg, err := Load(w.path); err == nil {
				w.mu.Lock()
				w.cfg = cfg
				w.mu.Unlock()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Resolve looks up a named runner definition against the most recently
// loaded Config, letting a *Watcher stand in directly as a
// runner.RunnerResolver.
func (w *Watcher) Resolve(name string) (Runner, bool) {
	return w.Current().Resolve(name)
}

// Close stops the watch goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
