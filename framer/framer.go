// Package framer reads and writes newline-delimited JSON over a pair of byte
// streams. One Framer serves one backend process; a restarted backend gets a
// new Framer.
package framer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/m4xw311/chatbridge/errors"
	"github.com/m4xw311/chatbridge/protocol"
	"github.com/rs/zerolog"
)

// FramingError reports an inbound line that was not a JSON object. The read
// loop keeps going after one.
type FramingError struct {
	Line string
	Err  error
}

func newFramingError(line []byte, err error) *FramingError {
	return &FramingError{
		Line: string(line),
		Err:  errors.Wrap(errors.Framing, "failed to parse JSON line", err),
	}
}

func (e *FramingError) Error() string { return e.Err.Error() }
func (e *FramingError) Unwrap() error { return e.Err }

// Framer owns the write side lock and the read loop for one connection.
type Framer struct {
	r    *bufio.Reader
	w    io.Writer
	sink zerolog.Logger

	// sem is a one-slot semaphore. Goroutines blocked sending on a channel
	// are woken in arrival order, so writers are served FIFO.
	sem       chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Framer reading from r and writing to w. Every parsed inbound
// line and every written line is mirrored to sink.
func New(r io.Reader, w io.Writer, sink zerolog.Logger) *Framer {
	return &Framer{
		r:    bufio.NewReader(r),
		w:    w,
		sink: sink,
		sem:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// WriteLine serializes v and writes it followed by a single newline. The line
// goes out in one Write call while the write lock is held, so concurrent
// writers never interleave.
func (f *Framer) WriteLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.Write, "failed to serialize message", err)
	}
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	select {
	case f.sem <- struct{}{}:
	case <-f.done:
		return errors.Typed(errors.Write, "connection closed")
	}
	defer func() { <-f.sem }()

	select {
	case <-f.done:
		return errors.Typed(errors.Write, "connection closed")
	default:
	}

	if _, err := f.w.Write(line); err != nil {
		f.sink.Debug().Err(err).Msg("write failed")
		return errors.Wrap(errors.Write, "failed to write line", err)
	}
	f.sink.Debug().Str("dir", "out").RawJSON("line", data).Msg("")
	return nil
}

// ReadLines reads lines until EOF, a read error, or cancellation. Surrounding
// whitespace is trimmed and blank lines are skipped. A line that parses is
// passed to onMessage; one that does not is passed to onFramingError and
// reading continues. ReadLines returns nil on EOF.
//
// Cancellation is observed between lines; closing the underlying reader is
// what unblocks a pending read.
func (f *Framer) ReadLines(ctx context.Context, onMessage func(protocol.Message), onFramingError func(*FramingError)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, readErr := f.r.ReadBytes('\n')
		if line := bytes.TrimSpace(raw); len(line) > 0 {
			f.dispatch(line, onMessage, onFramingError)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			select {
			case <-f.done:
				return nil
			default:
			}
			return errors.Wrapf(readErr, "read failed")
		}
	}
}

func (f *Framer) dispatch(line []byte, onMessage func(protocol.Message), onFramingError func(*FramingError)) {
	var msg protocol.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		ferr := newFramingError(line, err)
		f.sink.Debug().Err(err).Str("line", string(line)).Msg("framing error")
		if onFramingError != nil {
			onFramingError(ferr)
		}
		return
	}
	f.sink.Debug().Str("dir", "in").RawJSON("line", line).Msg("")
	if onMessage != nil {
		onMessage(msg)
	}
}

// Close tears the framer down. Pending and later writes fail with a write
// error. Close is idempotent.
func (f *Framer) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Closed reports whether Close has been called.
func (f *Framer) Closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
