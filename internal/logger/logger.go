package logger

import (
	"io"
	"log/slog"
	"os"
)

// New builds the process logger. Components receive it at construction time.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Init builds the process logger and installs it as the slog default, so that
// third-party code logging through slog ends up in the same sink.
func Init(debug bool) *slog.Logger {
	l := New(debug)
	slog.SetDefault(l)
	return l
}

// Nop returns a logger that drops everything. Used by tests and optional deps.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
