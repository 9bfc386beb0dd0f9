package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/utils"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// parseLogFlags pre-parses the logging flags from raw arguments. Logging has
// to be live before cobra runs, so this cannot wait for flag parsing; both
// "--log-file FILE" and "--log-file=FILE" spellings are accepted.
func parseLogFlags(args []string) (slog.Level, string) {
	level := slog.LevelInfo
	logFile := ""
	for i, arg := range args {
		switch {
		case arg == "--debug":
			level = slog.LevelDebug
		case arg == "--log-file" && i+1 < len(args):
			logFile = args[i+1]
		case strings.HasPrefix(arg, "--log-file="):
			logFile = strings.TrimPrefix(arg, "--log-file=")
		}
	}
	return level, logFile
}

// teeHandler duplicates records to every downstream handler, so the CLI can
// log colorized to the terminal and plain text to a file at once. Records are
// cloned per handler because Handle may consume the record's attrs.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = h.WithGroup(name)
	}
	return next
}

func setupLogging() (func(), error) {
	level, logFile := parseLogFlags(os.Args[1:])

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	if logFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return func() {}, nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(teeHandler{stdoutHandler, fileHandler}))
	return func() { file.Close() }, nil
}
