package mesh3d

import (
	"log/slog"

	"github.com/gogpu/mesh3d/internal/logging"
)

// SetLogger configures the logger for mesh3d and all its sub-packages.
// By default, mesh3d produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by mesh3d:
//   - [slog.LevelDebug]: per-tile detail (builds, evictions, skipped dispatches)
//   - [slog.LevelInfo]: lifecycle events (device selected, recompute complete)
//   - [slog.LevelWarn]: malformed data, HTTP failures and CPU fallback
//   - [slog.LevelError]: failures that disable a feature
//
// Example:
//
//	mesh3d.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by mesh3d.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.L()
}
