// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options select the logger output.
type Options struct {
	Service string
	Env     string
	Level   string // debug, info, warn, error; empty means info
	// Console switches to human-readable output for local runs.
	Console bool
}

// Setup builds a JSON logger on stdout carrying the service and environment
// on every entry, and redirects the standard library logger into it.
func Setup(opts Options) (*zap.Logger, error) {
	log, err := New(zapcore.Lock(os.Stdout), opts)
	if err != nil {
		return nil, err
	}
	zap.RedirectStdLog(log)
	return log, nil
}

// New builds a logger writing to out.
func New(out zapcore.WriteSyncer, opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.LevelKey = "severity"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if opts.Console {
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	fields := []zap.Field{zap.String("service", strings.TrimSpace(opts.Service))}
	if env := strings.TrimSpace(opts.Env); env != "" {
		fields = append(fields, zap.String("env", env))
	}
	core := zapcore.NewCore(encoder, out, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).With(fields...), nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return 0, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return l, nil
}
