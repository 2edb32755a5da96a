// Package daemonlog sets up the daemon's own rotating log file under
// <daemon_home>/daemon.log, distinct from the per-run worker logs the
// runner writes under <daemon_home>/logs/<worker_id>/<run_id>.log.
package daemonlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures rotation of the daemon's own log.
type Options struct {
	// MaxSizeMB is the size in megabytes at which the current log file
	// is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int
	// MaxAgeDays is the number of days to retain rotated files.
	MaxAgeDays int
}

// DefaultOptions uses modest size caps since this host also runs every
// worker's child processes. Per-run logs are not rotated at all.
var DefaultOptions = Options{MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 30}

// New opens (creating directories as needed) a rotating writer for
// <home>/daemon.log and wraps it in a slog.Logger at the given level,
// also mirroring to stderr when tee is true (used for `granaryd run
// --foreground`).
func New(home string, opts Options, tee bool, level slog.Level) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(home, 0o750); err != nil {
		return nil, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(home, "daemon.log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = rotator
	if tee {
		w = io.MultiWriter(rotator, os.Stderr)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), rotator, nil
}
