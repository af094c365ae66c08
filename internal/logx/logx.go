// Package logx is the tracker's logging call-site API: a thin wrapper over
// zerolog that keeps the Debug/Info/Warn/Error names flat and global, the
// way main.go historically called them.
package logx

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	l = l.Level(zerolog.InfoLevel)
	logger.Store(&l)
}

// Configure points the package logger at w, writing JSON records at level.
// Called once at startup from cmd/udptracker after config is loaded.
func Configure(w io.Writer, level zerolog.Level) {
	l := zerolog.New(w).With().Timestamp().Logger().Level(level)
	logger.Store(&l)
}

func current() *zerolog.Logger { return logger.Load() }

// DebugEnabled reports whether Debug calls will actually be written, so a
// hot path can skip formatting an expensive argument (e.g. InfoHash.String)
// when it won't be logged.
func DebugEnabled() bool { return current().GetLevel() <= zerolog.DebugLevel }

// Debug logs at debug level. fields is an optional set of key/value pairs,
// flattened two-at-a-time, matching the teacher's printf-style call sites
// but without building the message when debug is disabled.
func Debug(msg string, fields ...any) { logWith(current().Debug(), msg, fields) }

// Info logs at info level.
func Info(msg string, fields ...any) { logWith(current().Info(), msg, fields) }

// Warn logs at warn level.
func Warn(msg string, fields ...any) { logWith(current().Warn(), msg, fields) }

// Error logs at error level. err may be nil.
func Error(msg string, err error, fields ...any) {
	ev := current().Error()
	if err != nil {
		ev = ev.Err(err)
	}
	logWith(ev, msg, fields)
}

func logWith(ev *zerolog.Event, msg string, fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, fields[i+1])
	}
	ev.Msg(msg)
}
