package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	slogmulti "github.com/samber/slog-multi"
)

// SetupInstanceLogging tees every record logged through the returned context
// into <logsDirectory>/<runID>/<name>.log. name must be unique within the run
// and safe as a file name. It is a no-op when logsDirectory is empty. The
// returned func closes the file.
func SetupInstanceLogging(ctx context.Context, logsDirectory, runID, name string) (context.Context, func()) {
	if logsDirectory == "" {
		return ctx, func() {}
	}

	runDir := filepath.Join(logsDirectory, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		clog.WarnContext(ctx, "failed to create log directory", "path", runDir, "error", err.Error())
		return ctx, func() {}
	}

	logPath := filepath.Join(runDir, fmt.Sprintf("%s.log", name))
	logFile, err := os.Create(logPath)
	if err != nil {
		clog.WarnContext(ctx, "failed to create instance log file", "path", logPath, "error", err.Error())
		return ctx, func() {}
	}

	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := slogmulti.Fanout(clog.FromContext(ctx).Handler(), fileHandler)

	clog.InfoContext(ctx, "logging instance output to file", "path", logPath)
	ctx = clog.WithLogger(ctx, clog.New(handler))

	return ctx, func() {
		if err := logFile.Close(); err != nil {
			clog.WarnContext(ctx, "failed to close log file", "path", logPath, "error", err.Error())
		}
	}
}
