// Package logger provides structured logging for cfgstore
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with cfgstore-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "cfgstore").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Info logs an info message
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Debug logs a debug message
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn logs a warning message
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Error logs an error message
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

func (l *Logger) component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// GrpcLogger returns a logger for gRPC operations
func (l *Logger) GrpcLogger() *Logger { return l.component("grpc") }

// HTTPLogger returns a logger for the REST surface
func (l *Logger) HTTPLogger() *Logger { return l.component("http") }

// StoreLogger returns a logger for the store and its persistence
func (l *Logger) StoreLogger() *Logger { return l.component("store") }

// SnapshotLogger returns a logger for the snapshot workflow
func (l *Logger) SnapshotLogger() *Logger { return l.component("snapshot") }

// EventsLogger returns a logger for change event publishing
func (l *Logger) EventsLogger() *Logger { return l.component("events") }

// LogGrpcRequest logs a completed gRPC request
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("component", "grpc").
		Str("method", method).
		Dur("duration_ms", duration).
		Msg("gRPC request completed")
}

// LogHTTPRequest logs a completed REST request
func (l *Logger) LogHTTPRequest(method, path string, status int, duration time.Duration, requestID string) {
	event := l.zlog.Info()
	switch {
	case status >= 500:
		event = l.zlog.Error()
	case status >= 400:
		event = l.zlog.Warn()
	}
	event.
		Str("component", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Str("request_id", requestID).
		Dur("duration_ms", duration).
		Msg("HTTP request completed")
}

// LogStoreOperation logs a store operation and its outcome
func (l *Logger) LogStoreOperation(operation string, duration time.Duration, itemCount int, err error) {
	event := l.zlog.Debug().Int("item_count", itemCount)
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("component", "store").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Msg("store operation completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(grpcPort, restPort int, walPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("grpc_port", grpcPort).
		Int("rest_port", restPort).
		Str("wal", walPath).
		Msg("cfgstore server starting")
}

// LogServerReady logs when server is ready
func (l *Logger) LogServerReady(addr string) {
	l.zlog.Info().
		Str("event", "server_ready").
		Str("addr", addr).
		Msg("cfgstore server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("cfgstore server shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = globalLogger.zlog
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
