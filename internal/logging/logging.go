// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used by both the control
// plane loop and its supporting packages.
package logging

import (
	"io"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Logger wraps charmbracelet/log with the verbosity scale used throughout
// xdpfw's CLI (0-5, matching -v/--verbose) and an optional second sink for
// --log-file.
type Logger struct {
	base *charmlog.Logger
}

// VerboseToLevel maps the CLI's 0-5 verbose scale onto charmbracelet/log
// levels. 0 is quietest (errors only); 5 is the most chatty (debug).
func VerboseToLevel(verbose int) charmlog.Level {
	switch {
	case verbose <= 0:
		return charmlog.ErrorLevel
	case verbose == 1:
		return charmlog.WarnLevel
	case verbose == 2:
		return charmlog.InfoLevel
	default:
		return charmlog.DebugLevel
	}
}

// New builds a Logger writing to stdout (and, if logFile is non-empty, also
// appending timestamped lines to that file) at the level implied by verbose.
func New(verbose int, logFile string) (*Logger, error) {
	var out io.Writer = os.Stdout

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
	}

	base := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           VerboseToLevel(verbose),
	})

	return &Logger{base: base}, nil
}

// NewDiscard returns a Logger that drops everything, for tests.
func NewDiscard() *Logger {
	return &Logger{base: charmlog.NewWithOptions(io.Discard, charmlog.Options{})}
}

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.Error(msg, kv...) }

// SetLevel changes the verbosity after construction (used when a config
// reload changes the verbose level).
func (l *Logger) SetLevel(verbose int) {
	l.base.SetLevel(VerboseToLevel(verbose))
}

// With returns a Logger with additional persistent key/value context.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.base.With(kv...)}
}
