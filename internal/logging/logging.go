// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/krishanraja/mindmaker-sub000/internal/redact"
)

// ParseLevel maps debug/info/warn/error onto slog levels. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New returns a JSON logger (or text when format is "text") writing to w.
// String attributes named error are passed through secret redaction.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" || a.Key == "err" {
				switch a.Value.Kind() {
				case slog.KindString:
					a.Value = slog.StringValue(redact.Secrets(a.Value.String()))
				case slog.KindAny:
					if err, ok := a.Value.Any().(error); ok && err != nil {
						a.Value = slog.StringValue(redact.Secrets(err.Error()))
					}
				}
			}
			return a
		},
	}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}
