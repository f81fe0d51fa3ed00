package centrifuge

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type LoggerLevel int

const (
	LogDebug LoggerLevel = iota
	LogInfo
	LogWarning
	LogError
)

// Logger receives the client's diagnostics. kind names the emitting component, e.g. "client",
// "websocket" or "subscription".
type Logger interface {
	Print(level LoggerLevel, kind string, v ...any)
	Println(level LoggerLevel, kind string, v ...any)
	Printf(level LoggerLevel, kind string, format string, v ...any)
}

// NoopLogger is a logger that does nothing
type NoopLogger int

func NewNoopLogger() *NoopLogger {
	return new(NoopLogger)
}

func (l *NoopLogger) Print(_ LoggerLevel, _ string, _ ...any)            {}
func (l *NoopLogger) Println(_ LoggerLevel, _ string, _ ...any)          {}
func (l *NoopLogger) Printf(_ LoggerLevel, _ string, _ string, _ ...any) {}

// ZerologLogger writes to a zerolog.Logger, tagging every entry with its kind.
type ZerologLogger struct {
	logger zerolog.Logger
}

func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// NewSimpleLogger returns a ZerologLogger writing human readable lines to stderr for messages at
// or above logLevel.
func NewSimpleLogger(logLevel LoggerLevel) *ZerologLogger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(zerologLevel(logLevel)).With().Timestamp().Logger()
	return NewZerologLogger(logger)
}

func zerologLevel(level LoggerLevel) zerolog.Level {
	switch level {
	case LogDebug:
		return zerolog.DebugLevel
	case LogInfo:
		return zerolog.InfoLevel
	case LogWarning:
		return zerolog.WarnLevel
	case LogError:
		return zerolog.ErrorLevel
	}
	return zerolog.NoLevel
}

func (l *ZerologLogger) event(level LoggerLevel, kind string) *zerolog.Event {
	return l.logger.WithLevel(zerologLevel(level)).Str("kind", kind)
}

func (l *ZerologLogger) Print(level LoggerLevel, kind string, v ...any) {
	l.event(level, kind).Msg(fmt.Sprint(v...))
}

func (l *ZerologLogger) Println(level LoggerLevel, kind string, v ...any) {
	msg := fmt.Sprintln(v...)
	l.event(level, kind).Msg(msg[:len(msg)-1])
}

func (l *ZerologLogger) Printf(level LoggerLevel, kind string, format string, v ...any) {
	l.event(level, kind).Msgf(format, v...)
}
