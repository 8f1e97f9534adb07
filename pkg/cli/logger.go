package cli

import (
	"io"
	"log/slog"
)

// LogOptions selects the handler built by NewLogger.
type LogOptions struct {
	Verbose bool // debug level
	Quiet   bool // warnings and errors only; ignored when Verbose is set
	JSON    bool // JSON lines instead of key=value text
}

// NewLogger returns a logger writing to w with the level and format
// selected by opts.
func NewLogger(w io.Writer, opts LogOptions) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelWarn
	}
	ho := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// orDefault returns l if non-nil, otherwise slog.Default().
func orDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
