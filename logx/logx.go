// Package logx wraps zerolog with the leveled call shape used throughout
// this repository: Infof, Warnf, Errorf, Debugf.
package logx

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// SetOutput redirects the package logger, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the minimum level the package logger emits.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(lvl)
}

// Logger returns a named child logger carrying a "component" field, the
// convention every package in this repo uses to tag its log lines.
type Logger struct {
	component string
}

// Named returns a Logger tagged with component, e.g. logx.Named("poller").
func Named(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) with() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.With().Str("component", l.component).Logger()
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.with().Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.with().Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.with().Error().Msgf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.with().Debug().Msgf(format, args...)
}

// WithFields returns a derived logger carrying the given key/value pairs on
// every subsequent call, for operator-visible transitions that need context
// (tier changes, breaker trips, cooldown reasons).
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	ctx := l.with().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &FieldLogger{lg: ctx.Logger()}
}

// FieldLogger is a Logger bound to a fixed set of structured fields.
type FieldLogger struct {
	lg zerolog.Logger
}

func (f *FieldLogger) Infof(format string, args ...interface{})  { f.lg.Info().Msgf(format, args...) }
func (f *FieldLogger) Warnf(format string, args ...interface{})  { f.lg.Warn().Msgf(format, args...) }
func (f *FieldLogger) Errorf(format string, args ...interface{}) { f.lg.Error().Msgf(format, args...) }
func (f *FieldLogger) Debugf(format string, args ...interface{}) { f.lg.Debug().Msgf(format, args...) }
