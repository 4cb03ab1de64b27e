package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/orbitalfiles/orbital/internal/config"
)

// logFileDefault in log_file selects the platform log path.
const logFileDefault = "default"

// logLevel picks the level from config, with --verbose and --quiet winning.
func logLevel(l *config.LoggingConfig) slog.Level {
	level := slog.LevelInfo

	switch l.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the process logger. Console output goes to stderr as
// text on a terminal and JSON otherwise, unless log_format pins one. When
// log_file is set, records are also written as JSON to a rotating file.
// The returned func closes the file.
func buildLogger(l *config.LoggingConfig, stderr io.Writer) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: logLevel(l)}

	var handler slog.Handler
	if useTextFormat(l.LogFormat, stderr) {
		handler = slog.NewTextHandler(stderr, opts)
	} else {
		handler = slog.NewJSONHandler(stderr, opts)
	}

	if l.LogFile == "" {
		return slog.New(handler), func() {}, nil
	}

	path := l.LogFile
	if path == logFileDefault {
		path = config.DefaultLogPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename: path,
		MaxSize:  l.LogMaxSizeMB,
		MaxAge:   l.LogRetentionDays,
		Compress: true,
	}

	fileHandler := slog.NewJSONHandler(file, opts)

	closeFn := func() {
		if err := file.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
		}
	}

	return slog.New(fanout{handler, fileHandler}), closeFn, nil
}

// useTextFormat resolves "auto" by checking whether w is a terminal.
func useTextFormat(format string, w io.Writer) bool {
	switch format {
	case "text":
		return true
	case "json":
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return true
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error

	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}

	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}

	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}

	return out
}
