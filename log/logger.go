// Package log provides the Logger interface every component of the
// reactor core takes a dependency on, backed by zerolog.
package log

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger is what every package in this module takes instead of depending
// directly on zerolog.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	With(keyvals ...interface{}) Logger
}

type defaultLogger struct {
	zerolog.Logger
}

func (l *defaultLogger) Debug(msg string, keyvals ...interface{}) {
	logWith(l.Logger.Debug(), keyvals...).Msg(msg)
}

func (l *defaultLogger) Info(msg string, keyvals ...interface{}) {
	logWith(l.Logger.Info(), keyvals...).Msg(msg)
}

func (l *defaultLogger) Error(msg string, keyvals ...interface{}) {
	logWith(l.Logger.Error(), keyvals...).Msg(msg)
}

func (l *defaultLogger) With(keyvals ...interface{}) Logger {
	ctx := l.Logger.With()
	ctx = applyKeyvals(ctx, keyvals...)
	return &defaultLogger{Logger: ctx.Logger()}
}

func logWith(e *zerolog.Event, keyvals ...interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		e = e.Interface(key, keyvals[i+1])
	}
	return e
}

func applyKeyvals(ctx zerolog.Context, keyvals ...interface{}) zerolog.Context {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return ctx
}

// NewDefaultLogger builds a Logger writing to stderr. format must be
// "json" or "plain"; level must be one of "debug", "info", "error", or
// "none".
func NewDefaultLogger(format, level string) (Logger, error) {
	var zl zerolog.Logger
	switch format {
	case "plain":
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
	case "json":
		zl = zerolog.New(os.Stderr)
	default:
		return nil, fmt.Errorf("unknown log format %q: want json or plain", format)
	}
	zl = zl.With().Timestamp().Logger()

	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	zl = zl.Level(lvl)

	return &defaultLogger{Logger: zl}, nil
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "none":
		return zerolog.Disabled, nil
	default:
		return 0, fmt.Errorf("unknown log level %q: want debug, info, error, or none", level)
	}
}
