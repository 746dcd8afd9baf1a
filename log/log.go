// Package log is the logging facade of polling. The default backend is
// zerolog writing to stderr; SetLogger swaps it.
package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level of a log line.
type Level int32

// Levels
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is implemented by any backend.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

var (
	level  = int32(LevelInfo)
	logger atomic.Value
)

type holder struct{ l Logger }

func init() {
	logger.Store(holder{l: NewZerolog(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})})
}

// SetLogger replaces the backend.
func SetLogger(l Logger) {
	logger.Store(holder{l: l})
}

// SetLevel sets the lowest level that gets through.
func SetLevel(l Level) {
	atomic.StoreInt32(&level, int32(l))
}

// Enabled reports whether lines of level l are written.
func Enabled(l Level) bool {
	return int32(l) >= atomic.LoadInt32(&level)
}

func get() Logger {
	return logger.Load().(holder).l
}

func Debug(v ...interface{}) {
	if Enabled(LevelDebug) {
		get().Debug(v...)
	}
}

func Debugf(format string, v ...interface{}) {
	if Enabled(LevelDebug) {
		get().Debugf(format, v...)
	}
}

func Info(v ...interface{}) {
	if Enabled(LevelInfo) {
		get().Info(v...)
	}
}

func Infof(format string, v ...interface{}) {
	if Enabled(LevelInfo) {
		get().Infof(format, v...)
	}
}

func Warn(v ...interface{}) {
	if Enabled(LevelWarn) {
		get().Warn(v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if Enabled(LevelWarn) {
		get().Warnf(format, v...)
	}
}

func Error(v ...interface{}) {
	if Enabled(LevelError) {
		get().Error(v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if Enabled(LevelError) {
		get().Errorf(format, v...)
	}
}

// zlog adapts a zerolog.Logger. Filtering happens in this package, the
// zerolog logger itself is left at its lowest level.
type zlog struct {
	z zerolog.Logger
}

// NewZerolog returns a Logger writing through zerolog to w.
func NewZerolog(w io.Writer) Logger {
	return &zlog{z: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()}
}

func (l *zlog) Debug(v ...interface{}) { l.z.Debug().Msg(fmt.Sprint(v...)) }

func (l *zlog) Debugf(format string, v ...interface{}) { l.z.Debug().Msgf(format, v...) }

func (l *zlog) Info(v ...interface{}) { l.z.Info().Msg(fmt.Sprint(v...)) }

func (l *zlog) Infof(format string, v ...interface{}) { l.z.Info().Msgf(format, v...) }

func (l *zlog) Warn(v ...interface{}) { l.z.Warn().Msg(fmt.Sprint(v...)) }

func (l *zlog) Warnf(format string, v ...interface{}) { l.z.Warn().Msgf(format, v...) }

func (l *zlog) Error(v ...interface{}) { l.z.Error().Msg(fmt.Sprint(v...)) }

func (l *zlog) Errorf(format string, v ...interface{}) { l.z.Error().Msgf(format, v...) }
