package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// New creates a logger for a service. Development gets a console writer at
// debug level; every other environment gets JSON at info level.
func New(serviceName string, environment string) *Logger {
	return NewWithWriter(os.Stdout, serviceName, environment)
}

// NewWithWriter is New with an explicit destination, used by tests.
func NewWithWriter(w io.Writer, serviceName string, environment string) *Logger {
	output := w
	level := zerolog.InfoLevel

	switch environment {
	case "development":
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		level = zerolog.DebugLevel
	case "test":
		level = zerolog.WarnLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithRequestID returns a logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("request_id", requestID).Logger(),
	}
}

// WithActor returns a logger tagged with the acting user and role
func (l *Logger) WithActor(userID, role string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("user_id", userID).Str("role", role).Logger(),
	}
}

// WithComponent returns a logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}

type contextKey struct{}

// IntoContext stores a request-scoped logger on ctx
func IntoContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored by IntoContext, or fallback
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return l
	}
	return fallback
}
