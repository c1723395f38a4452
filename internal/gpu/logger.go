package gpu

import (
	"log/slog"

	"github.com/gogpu/mesh3d/internal/logging"
)

// slogger returns the current package logger.
// All logging in internal/gpu goes through this function.
func slogger() *slog.Logger { return logging.L().With("pkg", "gpu") }
