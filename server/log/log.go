package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Base is a bare logger without attributes, handed to the components
var Base *slog.Logger

// logger is the daemon logger with default attributes
var logger *slog.Logger

func Init(format, level string, source bool) error {
	var err error
	Base, err = New(os.Stdout, format, level, source)
	if err != nil {
		return err
	}

	logger = Base.With("component", "daemon")
	return nil
}

// New builds a json or text logger writing to w.
func New(w io.Writer, format, level string, source bool) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: source,
		Level:     logLevel,
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &options)), nil
	default:
		return nil, fmt.Errorf("unknown log format '%s'", format)
	}
}

// Proxies for slog.Logger methods

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}
