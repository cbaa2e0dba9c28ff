package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel (info on unknown input).
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface used across agentgraph.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// ExecutionLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It is cheap to copy via the With* methods.
type ExecutionLogger struct {
	logger      *slog.Logger
	sink        Logger
	level       LogLevel
	attrs       map[string]any
	component   string
	executionID string
}

// LoggerConfig configures construction of an ExecutionLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds an ExecutionLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *ExecutionLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &ExecutionLogger{logger: slog.New(handler), level: cfg.Level, attrs: map[string]any{}, component: cfg.Component}
}

// NewSlogLogger creates a new ExecutionLogger with the given level and format.
func NewSlogLogger(level LogLevel, format string, addSource bool) *ExecutionLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

// Wrap returns an ExecutionLogger writing through l. Level filtering is left
// to l. A nil l discards everything.
func Wrap(l Logger) *ExecutionLogger {
	switch v := l.(type) {
	case *ExecutionLogger:
		return v
	case *SlogAdapter:
		return &ExecutionLogger{logger: v.Logger, level: LogLevelDebug, attrs: map[string]any{}}
	}
	return &ExecutionLogger{sink: OrNoOp(l), level: LogLevelDebug, attrs: map[string]any{}}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *ExecutionLogger) clone() *ExecutionLogger {
	nl := *l
	nl.attrs = make(map[string]any, len(l.attrs))
	for k, v := range l.attrs {
		nl.attrs[k] = v
	}
	return &nl
}

// With adds a key/value attribute attached to every log entry.
func (l *ExecutionLogger) With(key string, value any) *ExecutionLogger {
	nl := l.clone()
	nl.attrs[key] = value
	return nl
}

// WithComponent sets the logical component (engine, model, retrieval, ...).
func (l *ExecutionLogger) WithComponent(c string) *ExecutionLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithExecution attaches an execution identifier.
func (l *ExecutionLogger) WithExecution(id string) *ExecutionLogger {
	nl := l.clone()
	nl.executionID = id
	return nl
}

func (l *ExecutionLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.executionID != "" {
		attrs = append(attrs, slog.String("execution_id", l.executionID))
	}
	for k, v := range l.attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *ExecutionLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	if l.sink != nil {
		kv := make([]any, 0, 2*len(l.attrs)+4+len(args))
		for _, a := range l.buildAttrs() {
			kv = append(kv, a.Key, a.Value.Any())
		}
		kv = append(kv, args...)
		switch level {
		case slog.LevelDebug:
			l.sink.Debug(msg, kv...)
		case slog.LevelWarn:
			l.sink.Warn(msg, kv...)
		case slog.LevelError:
			l.sink.Error(msg, kv...)
		default:
			l.sink.Info(msg, kv...)
		}
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(l.buildAttrs()...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(context.Background(), r)
}

// Debug logs at debug level.
func (l *ExecutionLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *ExecutionLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *ExecutionLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *ExecutionLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

func (l *ExecutionLogger) outcome(ok bool, okMsg, failMsg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if ok {
		l.Info(okMsg, args...)
		return
	}
	l.Error(failMsg, args...)
}

// LogNodeExecution records one node attempt.
func (l *ExecutionLogger) LogNodeExecution(node string, step, attempt int, dur time.Duration, err error) {
	l.outcome(err == nil, "node.completed", "node.failed", err,
		"node", node, "step", step, "attempt", attempt, "duration", dur)
}

// LogSuperstep records aggregate superstep metrics.
func (l *ExecutionLogger) LogSuperstep(step, frontier int, dur time.Duration, err error) {
	l.outcome(err == nil, "superstep.completed", "superstep.failed", err,
		"step", step, "frontier_size", frontier, "duration", dur)
}

// LogLLMCall records model call latency, token usage and success.
func (l *ExecutionLogger) LogLLMCall(provider, model string, tokens int, dur time.Duration, err error) {
	l.outcome(err == nil, "llm.call.completed", "llm.call.failed", err,
		"provider", provider, "model", model, "token_count", tokens, "duration", dur)
}

// LogRetrieval records a retrieval gateway query.
func (l *ExecutionLogger) LogRetrieval(stores []string, k, hits int, dur time.Duration, err error) {
	l.outcome(err == nil, "retrieval.completed", "retrieval.failed", err,
		"stores", fmt.Sprint(stores), "k", k, "hits", hits, "duration", dur)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
