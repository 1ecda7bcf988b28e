package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"pd-go/internal/pd"
)

// LogFileName is the log file inside the configured log directory.
const LogFileName = "pd.log"

// pdHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type pdHandler struct {
	w     io.Writer
	opID  string
	level slog.Level
	attrs []slog.Attr
}

func (h *pdHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *pdHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, level, h.opID, r.Message)
	if err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}

	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *pdHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &pdHandler{
		w:     h.w,
		opID:  h.opID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *pdHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to logDir/pd.log and to
// stderr. Text format uses pdHandler; json uses zerolog. Stderr only gets
// warnings and errors unless verbose is set. It returns the logger and the
// open log file for cleanup.
func newLogger(logDir, opID, format string, verbose bool) (pd.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	stderrLevel := slog.LevelWarn
	if verbose {
		stderrLevel = slog.LevelDebug
	}

	switch format {
	case "json":
		return newZerologAdapter(f, os.Stderr, opID, stderrLevel), f, nil
	default:
		file := &pdHandler{w: f, opID: opID, level: slog.LevelDebug}
		console := &pdHandler{w: os.Stderr, opID: opID, level: stderrLevel}
		return &slogAdapter{l: slog.New(fanoutHandler{file, console})}, f, nil
	}
}

// fanoutHandler hands each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// slogAdapter wraps *slog.Logger to satisfy the pd.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// zerologAdapter satisfies pd.Logger with JSON lines.
type zerologAdapter struct {
	l zerolog.Logger
}

func newZerologAdapter(file, console io.Writer, opID string, consoleLevel slog.Level) *zerologAdapter {
	w := zerolog.MultiLevelWriter(
		file,
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  zerologLevel(consoleLevel),
		},
	)
	return &zerologAdapter{l: zerolog.New(w).With().Timestamp().Str("op", opID).Logger()}
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level <= slog.LevelDebug:
		return zerolog.DebugLevel
	case level <= slog.LevelInfo:
		return zerolog.InfoLevel
	case level <= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (a *zerologAdapter) log(e *zerolog.Event, msg string, args []any) {
	if len(args)%2 == 1 {
		args = append(args, "!MISSING")
	}
	e.Fields(args).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, args ...any) { a.log(a.l.Debug(), msg, args) }
func (a *zerologAdapter) Info(msg string, args ...any)  { a.log(a.l.Info(), msg, args) }
func (a *zerologAdapter) Warn(msg string, args ...any)  { a.log(a.l.Warn(), msg, args) }
func (a *zerologAdapter) Error(msg string, args ...any) { a.log(a.l.Error(), msg, args) }
