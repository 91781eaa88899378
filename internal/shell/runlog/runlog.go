// Package runlog builds the per-run logger: a human-readable stream on
// stderr plus an append-only JSON log file named with the run timestamp.
// The log file is the only state this tool persists.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LevelSuccess sits between INFO and WARN; it marks milestone events the
// operator cares about (stage completed, deployment done).
const LevelSuccess = slog.Level(2)

// Success logs a milestone event.
func Success(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelSuccess, msg, args...)
}

// Logger is a run-scoped logger plus the path of its log file.
type Logger struct {
	*slog.Logger
	// RunID identifies this invocation in every record.
	RunID string
	// FilePath is the per-run log file, reported in summaries and errors.
	FilePath string

	file *os.File
}

// New creates the run logger, creating dir (default "logs") as needed.
// The file sink records everything from DEBUG up; the stderr sink starts at
// the given level.
func New(dir string, stderrLevel slog.Level) (*Logger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("deploy_%s.log", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	runID := uuid.New().String()
	handler := newFanout(
		newTextHandler(os.Stderr, stderrLevel),
		newJSONHandler(file, slog.LevelDebug),
	)
	logger := slog.New(handler).With("run_id", runID)

	return &Logger{Logger: logger, RunID: runID, FilePath: path, file: file}, nil
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// replaceLevel renders the custom level literally instead of "INFO+2".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelSuccess {
			a.Value = slog.StringValue("SUCCESS")
		}
	}
	return a
}

func newTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel})
}

func newJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel})
}

// ParseLevel maps a config string to a slog level, defaulting to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Fanout Handler
// =============================================================================

// fanout multiplexes records to every child handler that is enabled for the
// record's level.
type fanout struct {
	handlers []slog.Handler
}

func newFanout(handlers ...slog.Handler) slog.Handler {
	return &fanout{handlers: handlers}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: next}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanout{handlers: next}
}
