package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"node-rpc/config"
)

// LogLevel is the severity of a facade log line.
type LogLevel int

const (
	Info LogLevel = iota
	Warning
	Critical
)

// NewLogger builds the logger for a node named name. Lines read "[name] message":
// Info and Warning go to stdout, Critical to stderr. When c.File is set every line is
// also appended to a size-rotated file. The caller should defer logger.Sync().
func NewLogger(name string, c config.LogConfig) (*zap.Logger, error) {
	var file io.Writer
	if c.File != "" {
		if err := checkLogFile(c.File); err != nil {
			return nil, err
		}
		file = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.MaxSizeMB, 1),
			MaxBackups: max(c.MaxBackups, 1),
		}
	}
	return newLogger(name, parseLevel(c.Level), zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr), file), nil
}

func newLogger(name string, level zapcore.Level, stdout, stderr zapcore.WriteSyncer, file io.Writer) *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(encoderConfig())

	low := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= level && l < zapcore.ErrorLevel
	})
	high := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= level && l >= zapcore.ErrorLevel
	})

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, stdout, low),
		zapcore.NewCore(encoder, stderr, high),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), zap.NewAtomicLevelAt(level)))
	}

	return zap.New(zapcore.NewTee(cores...)).Named(name)
}

// checkLogFile makes sure path can be opened for appending. lumberjack only opens the
// file on the first write, which would hide a bad path until then.
func checkLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("log file %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log file %s: %w", path, err)
	}
	return f.Close()
}

// encoderConfig keeps only the logger name and the message, so a line reads
// "[name] message" followed by any structured fields.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}
