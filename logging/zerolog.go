package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of a zerolog.Logger for deployments
// standardized on zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps an existing zerolog.Logger.
func NewZerologAdapter(zl zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: zl}
}

// NewZerologLogger builds a zerolog backed Logger. Format "console" selects the
// human readable console writer; anything else writes JSON lines.
func NewZerologLogger(level LogLevel, format string, out io.Writer) *ZerologAdapter {
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(format, "console") || strings.EqualFold(format, "text") {
		out = zerolog.ConsoleWriter{Out: out}
	}
	zl := zerolog.New(out).Level(zerologLevel(level)).With().Timestamp().Logger()
	return &ZerologAdapter{logger: zl}
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a logger tagged with a component name.
func (z *ZerologAdapter) WithComponent(name string) *ZerologAdapter {
	return &ZerologAdapter{logger: z.logger.With().Str("component", name).Logger()}
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { emit(z.logger.Debug(), msg, args) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { emit(z.logger.Info(), msg, args) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { emit(z.logger.Warn(), msg, args) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { emit(z.logger.Error(), msg, args) }

// emit converts slog-style key/value pairs into zerolog fields. A dangling key
// is reported under "!BADKEY" like slog does.
func emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
