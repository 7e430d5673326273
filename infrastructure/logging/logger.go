// Package logging provides structured logging scoped per component.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID.
	TraceIDKey ContextKey = "trace_id"
	// ActorKey is the context key for the acting component.
	ActorKey ContextKey = "actor"
)

// Logger wraps logrus.Logger with a fixed scope field. The core loader hands
// every plugin a logger scoped to its plugin id; subsystems scope to their
// own name.
type Logger struct {
	*logrus.Logger
	scope string
}

// New creates a new Logger instance.
func New(scope, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger: logger,
		scope:  scope,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables. Defaults to "info" and "json" when unset.
func NewFromEnv(scope string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(scope, level, format)
}

// Scope returns the scope this logger is bound to.
func (l *Logger) Scope() string {
	return l.scope
}

// Scoped derives a logger for a child component sharing the underlying sink
// and level. Used by the loader to build per-plugin loggers.
func (l *Logger) Scoped(scope string) *Logger {
	return &Logger{
		Logger: l.Logger,
		scope:  scope,
	}
}

// WithFields creates a new logger entry with custom fields plus the scope.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["scope"] = l.scope
	return l.Logger.WithFields(fields)
}

// WithField creates a new logger entry with one custom field plus the scope.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"scope": l.scope,
		key:     value,
	})
}

// WithError creates a new logger entry carrying an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"scope": l.scope,
		"error": err.Error(),
	})
}

// WithContext creates a new logger entry with context values.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("scope", l.scope)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if actor := ctx.Value(ActorKey); actor != nil {
		entry = entry.WithField("actor", actor)
	}

	return entry
}

// SetOutput sets the logger output.
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithActor adds the acting component to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the acting component from context.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}

// LogHandlerFault logs an event handler failure. Handler faults are swallowed
// by the bus; this is their only trace.
func (l *Logger) LogHandlerFault(topic string, sequence uint64, err error) {
	l.WithFields(map[string]interface{}{
		"topic":    topic,
		"sequence": sequence,
		"error":    err.Error(),
	}).Error("Event handler fault")
}

// LogLifecycle logs a plugin lifecycle transition.
func (l *Logger) LogLifecycle(pluginID, from, to string) {
	l.WithFields(map[string]interface{}{
		"plugin": pluginID,
		"from":   from,
		"to":     to,
	}).Info("Plugin lifecycle transition")
}

// Global logger instance (can be initialized once at startup).
var defaultLogger *Logger

// InitDefault initializes the default logger.
func InitDefault(scope, level, format string) {
	defaultLogger = New(scope, level, format)
}

// Default returns the default logger.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("core", "info", "json")
	}
	return defaultLogger
}
