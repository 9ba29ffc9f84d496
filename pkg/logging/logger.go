// Package logging provides the agent's structured logger. Components receive
// a *Logger at construction; there is no process-global instance.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap with the agent's field conventions.
type Logger struct {
	*zap.Logger
}

// ParseLevel maps a config string to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a production logger at the given minimum level.
func New(level string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.DisableStacktrace = true
	z, err := cfg.Build(zap.Fields(zap.String("component", "securus-agent")))
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: z}, nil
}

// Nop returns a logger that discards everything; used as the fallback so a
// nil-logger path never panics inside the agent.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Named returns a child logger scoped to a sub-component.
func (l *Logger) Named(name string) *Logger {
	if l == nil || l.Logger == nil {
		return Nop()
	}
	return &Logger{Logger: l.Logger.Named(name)}
}
