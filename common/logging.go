// Package common holds process-wide helpers shared by the binaries.
package common

import (
	"io"
	"log/slog"
	"os"
)

// LoggingOpts configures the root logger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
	// Writer receives the log output. Defaults to stdout.
	Writer io.Writer
}

// SetupLogger builds the root logger. Service and Version are attached to
// every record when set.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if opts.Writer != nil {
		out = opts.Writer
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
