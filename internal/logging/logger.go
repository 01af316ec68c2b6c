package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus.Logger and adds correlation ID, component tracking and
// accumulated structured fields for the stream recording engine. Info/Warn/
// Error/Debug/Fatal/Trace are redefined (not promoted from *logrus.Logger)
// so that fields attached via With* survive into the eventual log call.
type Logger struct {
	*logrus.Logger
	correlationID string
	component     string
	fields        logrus.Fields
	mu            sync.RWMutex
}

// Config represents logging configuration settings.
type Config struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// CorrelationIDKey is the context key used to carry correlation IDs.
const CorrelationIDKey = "correlation_id"

// Fields is a type alias for logrus.Fields to keep callers decoupled from logrus.
type Fields = logrus.Fields

var (
	globalLogger *Logger
	once         sync.Once
)

// NewLogger creates a logger for the given component.
func NewLogger(component string) *Logger {
	l := &Logger{
		Logger:    logrus.New(),
		component: component,
	}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Default returns the process-wide logger instance, creating it on first use.
func Default() *Logger {
	once.Do(func() {
		globalLogger = NewLogger("engine")
	})
	return globalLogger
}

// SetupLogging configures the global logger's level, format, and outputs.
func SetupLogging(config *Config) error {
	logger := Default()

	level, err := logrus.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.ReplaceHooks(logrus.LevelHooks{})

	if config.ConsoleEnabled {
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(consoleFormatter(config.Format))
	}

	if config.FileEnabled && config.FilePath != "" {
		if err := setupFileOutput(logger, config); err != nil {
			return fmt.Errorf("failed to set up log file output: %w", err)
		}
	}

	return nil
}

func setupFileOutput(logger *Logger, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxFileSize,
		MaxBackups: config.BackupCount,
		MaxAge:     30,
		Compress:   true,
	}

	logger.SetOutput(rotator)
	logger.SetFormatter(fileFormatter(config.Format))
	return nil
}

func consoleFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	}
}

func fileFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	}
}

// WithCorrelationID returns a derived logger carrying the given correlation ID.
func (l *Logger) WithCorrelationID(id string) *Logger {
	return l.derive(id, nil)
}

// WithField returns a derived logger with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive("", logrus.Fields{key: value})
}

// WithFields returns a derived logger with multiple extra fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return l.derive("", fields)
}

// WithError returns a derived logger with an error field attached.
func (l *Logger) WithError(err error) *Logger {
	return l.derive("", logrus.Fields{logrus.ErrorKey: err})
}

// derive returns a copy of l with id (if non-empty) and extra merged into
// its accumulated correlation ID and fields.
func (l *Logger) derive(id string, extra logrus.Fields) *Logger {
	l.mu.RLock()
	merged := make(logrus.Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		merged[k] = v
	}
	correlationID := l.correlationID
	component := l.component
	l.mu.RUnlock()

	for k, v := range extra {
		merged[k] = v
	}
	if id != "" {
		correlationID = id
	}
	return &Logger{Logger: l.Logger, correlationID: correlationID, component: component, fields: merged}
}

// entry builds the logrus entry carrying component, correlation ID and
// every field accumulated through With*.
func (l *Logger) entry() *logrus.Entry {
	e := l.Logger.WithField("component", l.component)
	if l.correlationID != "" {
		e = e.WithField("correlation_id", l.correlationID)
	}
	if len(l.fields) > 0 {
		e = e.WithFields(l.fields)
	}
	return e
}

// LogWithContext logs a message at the given level, pulling a correlation ID
// from ctx if the logger doesn't already carry one.
func (l *Logger) LogWithContext(ctx context.Context, level logrus.Level, msg string) {
	e := l.entry()
	if l.correlationID == "" {
		if id := CorrelationIDFromContext(ctx); id != "" {
			e = e.WithField("correlation_id", id)
		}
	}
	e.Log(level, msg)
}

// Debug logs at debug level with every field accumulated through With*.
func (l *Logger) Debug(args ...interface{}) { l.entry().Debug(args...) }

// Info logs at info level with every field accumulated through With*.
func (l *Logger) Info(args ...interface{}) { l.entry().Info(args...) }

// Warn logs at warn level with every field accumulated through With*.
func (l *Logger) Warn(args ...interface{}) { l.entry().Warn(args...) }

// Error logs at error level with every field accumulated through With*.
func (l *Logger) Error(args ...interface{}) { l.entry().Error(args...) }

// Fatal logs at fatal level with every field accumulated through With* and
// then calls os.Exit(1), matching logrus.Logger.Fatal.
func (l *Logger) Fatal(args ...interface{}) { l.entry().Fatal(args...) }

// Trace logs at trace level with every field accumulated through With*.
func (l *Logger) Trace(args ...interface{}) { l.entry().Trace(args...) }

// CorrelationIDFromContext extracts a correlation ID previously attached with
// ContextWithCorrelationID, or "" if none is present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithCorrelationID attaches a correlation ID to ctx.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}
