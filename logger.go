package hybridrag

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with engine-specific helpers so the ingest,
// query, and recovery paths log with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithSource adds a source_path field to the logger.
func (l *Logger) WithSource(sourcePath string) *Logger {
	return &Logger{
		Logger: l.Logger.With("source_path", sourcePath),
	}
}

// LogIngest logs the outcome of an ingestion batch.
func (l *Logger) LogIngest(ctx context.Context, indexed, reembedded, skipped, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "ingest completed with failures",
			"indexed", indexed,
			"reembedded", reembedded,
			"skipped", skipped,
			"failed", failed,
		)
	} else {
		l.InfoContext(ctx, "ingest completed",
			"indexed", indexed,
			"reembedded", reembedded,
			"skipped", skipped,
		)
	}
}

// LogQuery logs a hybrid query.
func (l *Logger) LogQuery(ctx context.Context, topK, results int, gated bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"k", topK,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"k", topK,
			"results", results,
			"gated", gated,
		)
	}
}

// LogRecovery logs what Open found when reconciling the two stores.
func (l *Logger) LogRecovery(ctx context.Context, committedRows, dangling int64) {
	if dangling > 0 {
		l.WarnContext(ctx, "store opened with dangling embedding references",
			"committed_rows", committedRows,
			"dangling", dangling,
		)
	} else {
		l.DebugContext(ctx, "store opened",
			"committed_rows", committedRows,
		)
	}
}

// LogGC logs a garbage collection pass.
func (l *Logger) LogGC(ctx context.Context, sources int, chunks int64) {
	l.InfoContext(ctx, "gc completed",
		"sources_removed", sources,
		"chunks_removed", chunks,
	)
}
