// Package xlog is a small leveled logger in the style of go-ethereum's log
// package: a Logger interface with Trace/Debug/Info/Warn/Error/Crit, each
// taking a message and an alternating key-value context, backed by
// log/slog with terminal color detection for human-readable output.
package xlog

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is the contextual logging handle threaded through the engine.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	// Crit logs at the highest level and then calls the configured exit
	// function. Used for INVARIANT_VIOLATION conditions that must abort
	// the process rather than be swallowed.
	Crit(msg string, ctx ...any)

	// With returns a Logger that prepends ctx to every subsequent call.
	With(ctx ...any) Logger
}

const (
	levelTrace = slog.Level(-8)
	levelCrit  = slog.Level(12)
)

type logger struct {
	s    *slog.Logger
	exit func(code int)
}

// New returns a Logger writing to w (or a color-aware wrapper of os.Stderr
// when w is nil and stderr is a terminal) at the given minimum level.
func New(w io.Writer, level slog.Level) Logger {
	if w == nil {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			w = colorable.NewColorableStderr()
		} else {
			w = os.Stderr
		}
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(lvl))
				}
			}
			return a
		},
	})
	return &logger{s: slog.New(handler), exit: os.Exit}
}

// Root returns a default Logger at Info level, writing to stderr.
func Root() Logger {
	return New(nil, slog.LevelInfo)
}

func levelName(l slog.Level) string {
	switch {
	case l <= levelTrace:
		return "TRACE"
	case l <= slog.LevelDebug:
		return "DEBUG"
	case l <= slog.LevelInfo:
		return "INFO"
	case l <= slog.LevelWarn:
		return "WARN"
	case l <= slog.LevelError:
		return "ERROR"
	default:
		return "CRIT"
	}
}

func (l *logger) Trace(msg string, ctx ...any) { l.s.Log(context.Background(), levelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.s.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.s.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.s.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.s.Error(msg, ctx...) }

func (l *logger) Crit(msg string, ctx ...any) {
	l.s.Log(context.Background(), levelCrit, msg, ctx...)
	l.exit(1)
}

func (l *logger) With(ctx ...any) Logger {
	return &logger{s: l.s.With(ctx...), exit: l.exit}
}

// WithExit returns a copy of lg whose Crit calls exit instead of os.Exit.
// Used by tests that need to observe a Crit call without killing the test
// binary.
func WithExit(lg Logger, exit func(code int)) Logger {
	base, ok := lg.(*logger)
	if !ok {
		return lg
	}
	return &logger{s: base.s, exit: exit}
}
