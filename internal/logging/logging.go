// Package logging builds the installer's zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

type Options struct {
	Level zerolog.Level
	// File receives JSON logs. When it cannot be opened a file of the same
	// name in the working directory is tried instead.
	File string
	// Console, if set, receives human readable logs.
	Console io.Writer
}

// New returns the logger and a func that closes the log file.
func New(opts Options) (zerolog.Logger, func() error) {
	zerolog.TimeFieldFormat = time.RFC3339
	var writers []io.Writer
	closer := func() error { return nil }
	if f := openLogFile(opts.File); f != nil {
		writers = append(writers, f)
		closer = f.Close
	}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"})
	}
	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(w).Level(opts.Level).With().Timestamp().Logger(), closer
}

func openLogFile(path string) *os.File {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		return f
	}
	f, err = os.OpenFile(filepath.Base(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	return f
}

// StderrIfTerminal returns os.Stderr when it is attached to a terminal.
func StderrIfTerminal() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return os.Stderr
	}
	return nil
}
