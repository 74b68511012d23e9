// logutil.go - slog-Hilfen fuer strukturiertes Logging
//
// Dieses Modul enthaelt:
// - LevelTrace: Log-Level unterhalb von Debug fuer Hot-Path-Ausgaben
// - Trace/TraceContext: Convenience-Logger auf Trace-Level
// - NewLogger: Handler mit Level und gekuerzter Quellangabe
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

const LevelTrace slog.Level = -8

func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	slog.Log(ctx, LevelTrace, msg, args...)
}

// NewLogger erzeugt einen Text-Handler, der Quellpfade auf den Dateinamen kuerzt
// und das Trace-Level benennt.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.SourceKey:
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			case slog.LevelKey:
				if level, ok := attr.Value.Any().(slog.Level); ok && level == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			}
			return attr
		},
	}))
}
