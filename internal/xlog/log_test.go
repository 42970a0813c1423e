package xlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerWritesContext(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, slog.LevelInfo)
	lg.Info("opened store", "path", "/tmp/x", "columns", 3)

	out := buf.String()
	if !strings.Contains(out, "opened store") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "columns=3") {
		t.Fatalf("expected key=value context in output, got %q", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, slog.LevelWarn)
	lg.Info("should not appear")
	lg.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("info message leaked through a warn-level logger: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("warn message missing: %q", out)
	}
}

func TestCritCallsExit(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, slog.LevelInfo)
	var exitCode int
	var called bool
	lg = WithExit(lg, func(code int) { called = true; exitCode = code })

	lg.Crit("invariant violated", "reason", "corrupt manifest")
	if !called {
		t.Fatalf("expected exit function to be called")
	}
	if exitCode != 1 {
		t.Fatalf("got exit code %d, want 1", exitCode)
	}
	if !strings.Contains(buf.String(), "invariant violated") {
		t.Fatalf("expected crit message to be logged before exiting")
	}
}

func TestWithAddsPersistentContext(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, slog.LevelInfo).With("store", "embeddings")
	lg.Info("joined")
	if !strings.Contains(buf.String(), "store=embeddings") {
		t.Fatalf("expected persistent context in output, got %q", buf.String())
	}
}
