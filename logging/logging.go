// Package logging builds the zerolog loggers used by the bridge and the
// assistant backend. Output goes to a trace file when tracing is on and is
// discarded otherwise.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/chatbridge/errors"
	"github.com/rs/zerolog"
)

// DefaultPath is where the trace file goes when Options.Path is empty.
var DefaultPath = filepath.Join(".chatbridge", "bridge.trace")

type Options struct {
	// Trace turns on the trace file.
	Trace bool
	Path  string
	// Level is a zerolog level name. Defaults to debug.
	Level string
	// Console, if set, also receives human-readable lines. The assistant
	// backend points this at stderr, which the bridge shows in its debug pane.
	Console io.Writer
}

// New returns the logger and a closer for the trace file. The closer is never
// nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.DebugLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, errors.Wrapf(err, "invalid log level '%s'", opts.Level)
		}
		level = l
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if opts.Trace {
		path := opts.Path
		if path == "" {
			path = DefaultPath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return zerolog.Nop(), nopCloser{}, errors.Wrapf(err, "could not create trace directory")
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, errors.Wrapf(err, "could not open trace file '%s'", path)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, NoColor: true, TimeFormat: "15:04:05.000"})
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}
	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return log, closer, nil
}

// Component derives the child logger for a named component.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
