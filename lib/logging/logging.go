package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Logger wraps a zerolog.Logger so every package logs through the same
// configured instance. Output destination and level come from the
// "logging.*" config keys.
type Logger struct {
	zl zerolog.Logger
}

var (
	globalLogger *Logger
	once         sync.Once
)

// ParseLogLevel converts a config string to a zerolog level.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// InitLogger initializes the global logger from config. Safe to call more
// than once; only the first call takes effect.
func InitLogger() error {
	var err error
	once.Do(func() {
		globalLogger, err = NewLogger()
	})
	return err
}

// GetLogger returns the global logger, falling back to a stdout logger when
// InitLogger has not run yet.
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewBasicLogger()
	}
	return globalLogger
}

// NewLogger creates a logger using the global viper config.
func NewLogger() (*Logger, error) {
	level := ParseLogLevel(viper.GetString("logging.level"))

	writer, err := buildWriter(viper.GetString("logging.output"), viper.GetString("logging.dir"))
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger output: %w", err)
	}

	zl := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

// NewBasicLogger creates a stdout logger for fallback and tests.
func NewBasicLogger() *Logger {
	zl := zerolog.New(consoleWriter(os.Stdout)).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
}

// buildWriter resolves the configured output destination. "file" and "both"
// create logs/<date>/<time>.log the way the previous file logger did.
func buildWriter(output string, dir string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return consoleWriter(os.Stdout), nil
	case "file", "both":
		if dir == "" {
			dir = "logs"
		}
		now := time.Now()
		fullDir := filepath.Join(dir, now.Format("2006-01-02"))
		if err := os.MkdirAll(fullDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logPath := filepath.Join(fullDir, now.Format("15-04-05")+".log")
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		if output == "both" {
			return zerolog.MultiLevelWriter(consoleWriter(os.Stdout), file), nil
		}
		return file, nil
	default:
		return consoleWriter(os.Stdout), nil
	}
}

func (l *Logger) event(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if len(fields) > 0 {
		e = e.Fields(fields[0])
	}
	e.Msg(msg)
}

// Debug logs debug level messages.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.event(l.zl.Debug(), msg, fields)
}

// Info logs info level messages.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.event(l.zl.Info(), msg, fields)
}

// Warn logs warning level messages.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.event(l.zl.Warn(), msg, fields)
}

// Error logs error level messages.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.event(l.zl.Error(), msg, fields)
}

// Fatal logs fatal level messages and exits.
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.event(l.zl.Fatal(), msg, fields)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}

// Global convenience functions.

func Debug(msg string, fields ...map[string]interface{}) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...map[string]interface{}) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...map[string]interface{}) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...map[string]interface{}) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...map[string]interface{}) {
	GetLogger().Fatal(msg, fields...)
}

func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}
