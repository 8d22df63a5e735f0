package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"streamhost/internal/logging"
)

const (
	DefaultMaxLine     = 8 * 1024
	DefaultReadTimeout = 500 * time.Millisecond
)

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// Reader splits a pipe into lines for a handler. When the source supports
// read deadlines (os.Pipe ends do) each read is bounded by Timeout so ctx
// cancellation is noticed even while the encoder is silent; otherwise
// closing the source is what unblocks Run.
type Reader struct {
	MaxLine int
	Timeout time.Duration
	Logger  *slog.Logger
}

// Run reads src until EOF, ctx cancellation, or a read error. Lines longer
// than MaxLine are dropped whole. EOF, closed sources and cancellation
// return nil.
func (r Reader) Run(ctx context.Context, src io.Reader, handle func(line string)) error {
	maxLine := r.MaxLine
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	dl, useDeadline := src.(deadliner)
	if useDeadline {
		if err := dl.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			useDeadline = false
		}
	}

	buf := make([]byte, 4096)
	pending := make([]byte, 0, 512)
	discarding := false

	emit := func(line []byte) {
		if len(line) > maxLine {
			logger.Debug("discarding oversized telemetry line", logging.Int("bytes", len(line)))
			return
		}
		handle(string(bytes.TrimRight(line, "\r")))
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if useDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := src.Read(buf)
		data := buf[:n]
		for len(data) > 0 {
			idx := bytes.IndexByte(data, '\n')
			if idx < 0 {
				if !discarding {
					pending = append(pending, data...)
					if len(pending) > maxLine {
						logger.Debug("discarding oversized telemetry line", logging.Int("bytes", len(pending)))
						pending = pending[:0]
						discarding = true
					}
				}
				break
			}
			if !discarding {
				pending = append(pending, data[:idx]...)
				emit(pending)
			}
			pending = pending[:0]
			discarding = false
			data = data[idx+1:]
		}
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				continue
			case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
				if len(pending) > 0 && !discarding {
					emit(pending)
				}
				return nil
			default:
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
