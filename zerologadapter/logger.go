// Package zerologadapter adapts github.com/rs/zerolog to core.Logger.
package zerologadapter

import (
	"github.com/Swind/go-sequencer/core"
	"github.com/rs/zerolog"
)

// Logger implements core.Logger on top of a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*Logger)(nil)

// New wraps an existing zerolog.Logger.
func New(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func (l *Logger) Debug(msg string, fields ...core.Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...core.Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...core.Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...core.Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) emit(level zerolog.Level, msg string, fields []core.Field) {
	ev := l.zl.WithLevel(level)
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}
