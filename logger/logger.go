package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/mistlake/mistlake-sql-go/driverctx"
)

// Logger is a thin wrapper around zerolog so that request scoped fields
// such as connection id, correlation id and query id can be attached to
// every message a component emits.
type Logger struct {
	zerolog.Logger
}

var Log = &Logger{zerolog.New(os.Stderr).With().Timestamp().Logger()}

// enable pretty printing for interactive terminals and json for production.
func init() {
	if isatty.IsTerminal(os.Stdout.Fd()) && runtime.GOOS != "windows" {
		Log = &Logger{Log.Output(zerolog.ConsoleWriter{Out: os.Stderr})}
	} else {
		// UNIX time is faster and smaller than most timestamp formats
		zerolog.TimeFieldFormat = ""
	}
	// by default only log warnings and above
	Log.Logger = Log.Level(zerolog.WarnLevel)
}

// SetLogLevel sets the log level from a level name: disabled, trace,
// debug, info, warn, error, fatal or panic.
func SetLogLevel(l string) error {
	level, err := zerolog.ParseLevel(l)
	if err != nil {
		return fmt.Errorf("mistlake: error parsing log level: %s", l)
	}
	Log.Logger = Log.Level(level)
	return nil
}

// SetLogOutput redirects log output to the given writer.
func SetLogOutput(w io.Writer) {
	Log.Logger = Log.Output(w)
}

// WithContext returns a logger with connId, corrId and queryId fields
// attached to every message.
func WithContext(connectionId string, correlationId string, queryId string) *Logger {
	return &Logger{Log.With().
		Str("connId", connectionId).
		Str("corrId", correlationId).
		Str("queryId", queryId).
		Logger()}
}

// WithChunk returns a logger which additionally tags messages with the
// index of the chunk being worked on.
func (l *Logger) WithChunk(chunkIndex int64) *Logger {
	return &Logger{l.With().Str("chunkIdx", strconv.FormatInt(chunkIndex, 10)).Logger()}
}

// FromContext builds a logger with whichever ids are present in ctx.
func FromContext(ctx context.Context) *Logger {
	return WithContext(
		driverctx.ConnIdFromContext(ctx),
		driverctx.CorrelationIdFromContext(ctx),
		driverctx.QueryIdFromContext(ctx),
	)
}

// Track logs a debug message and returns the current time, to be paired
// with Duration.
func (l *Logger) Track(msg string) time.Time {
	l.Debug().Msgf("%s starting", msg)
	return time.Now()
}

// Duration logs the time elapsed since start for the given message.
func (l *Logger) Duration(msg string, start time.Time) {
	l.Debug().Msgf("%s elapsed: %s", msg, time.Since(start))
}

func Debug() *zerolog.Event { return Log.Debug() }
func Info() *zerolog.Event  { return Log.Info() }
func Warn() *zerolog.Event  { return Log.Warn() }
func Error() *zerolog.Event { return Log.Error() }
func Err(err error) *zerolog.Event {
	return Log.Err(err)
}
