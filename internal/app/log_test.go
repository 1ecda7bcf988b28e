package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPdHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "library created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tlibrary created\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "catalog loaded",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tcatalog loaded\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "imported",
			attrs:   []slog.Attr{slog.String("path", "2024/img.jpg"), slog.Int("library", 3)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\timported\tpath=2024/img.jpg\tlibrary=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &pdHandler{w: &buf, opID: tt.opID, level: slog.LevelDebug}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestPdHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &pdHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "watch")}).(*pdHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "changed", 0)
	r.AddAttrs(slog.String("dir", "2024"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=watch") {
		t.Errorf("expected pre-set attr component=watch, got: %q", got)
	}
	if !strings.Contains(got, "dir=2024") {
		t.Errorf("expected record attr dir=2024, got: %q", got)
	}
}

func TestPdHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	h := &pdHandler{opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*pdHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestPdHandler_Enabled(t *testing.T) {
	h := &pdHandler{level: slog.LevelWarn}
	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, false},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestFanoutHandler(t *testing.T) {
	var all, warn bytes.Buffer
	logger := slog.New(fanoutHandler{
		&pdHandler{w: &all, opID: "op", level: slog.LevelDebug},
		&pdHandler{w: &warn, opID: "op", level: slog.LevelWarn},
	})

	logger.Info("quiet")
	logger.Warn("loud")

	if got := strings.Count(all.String(), "\n"); got != 2 {
		t.Errorf("debug handler got %d lines, want 2: %q", got, all.String())
	}
	if strings.Contains(warn.String(), "quiet") || !strings.Contains(warn.String(), "loud") {
		t.Errorf("warn handler output = %q, want only the warning", warn.String())
	}
}

func TestZerologAdapter(t *testing.T) {
	var file, console bytes.Buffer
	l := newZerologAdapter(&file, &console, "op-42", slog.LevelWarn)

	l.Info("library created", "library", 7, "location", "/photos")
	l.Error("sync failed", "library", 7)

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("file got %d lines, want 2: %q", len(lines), file.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid json line %q: %v", lines[0], err)
	}
	if rec["message"] != "library created" {
		t.Errorf("message = %v, want %q", rec["message"], "library created")
	}
	if rec["op"] != "op-42" {
		t.Errorf("op = %v, want %q", rec["op"], "op-42")
	}
	if rec["location"] != "/photos" {
		t.Errorf("location = %v, want %q", rec["location"], "/photos")
	}
	if rec["level"] != "info" {
		t.Errorf("level = %v, want info", rec["level"])
	}

	if strings.Contains(console.String(), "library created") {
		t.Errorf("console should not get info lines: %q", console.String())
	}
	if !strings.Contains(console.String(), "sync failed") {
		t.Errorf("console should get error lines: %q", console.String())
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()

			logger, f, err := newLogger(dir, "test-op", format, false)
			if err != nil {
				t.Fatalf("newLogger() error = %v", err)
			}
			defer f.Close()

			if logger == nil {
				t.Fatal("newLogger() returned nil logger")
			}
			logger.Info("hello", "k", "v")

			data, err := os.ReadFile(filepath.Join(dir, LogFileName))
			if err != nil {
				t.Fatalf("reading log file: %v", err)
			}
			if !strings.Contains(string(data), "hello") {
				t.Errorf("log file = %q, want it to contain the message", data)
			}
		})
	}
}
