package webrtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory routes pion's internal logging into zerolog.
type LoggerFactory struct {
	log zerolog.Logger
}

// NewLoggerFactory returns a factory whose loggers write to log.
func NewLoggerFactory(log zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{log: log.With().Str("component", "pion").Logger()}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{log: f.log.With().Str("scope", scope).Logger()}
}

type leveledLogger struct {
	log zerolog.Logger
}

func (l *leveledLogger) Trace(msg string) { l.log.Trace().Msg(msg) }
func (l *leveledLogger) Tracef(format string, args ...any) { l.log.Trace().Msgf(format, args...) }
func (l *leveledLogger) Debug(msg string) { l.log.Debug().Msg(msg) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.log.Debug().Msgf(format, args...) }
func (l *leveledLogger) Info(msg string) { l.log.Info().Msg(msg) }
func (l *leveledLogger) Infof(format string, args ...any) { l.log.Info().Msgf(format, args...) }
func (l *leveledLogger) Warn(msg string) { l.log.Warn().Msg(msg) }
func (l *leveledLogger) Warnf(format string, args ...any) { l.log.Warn().Msgf(format, args...) }
func (l *leveledLogger) Error(msg string) { l.log.Error().Msg(msg) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }
