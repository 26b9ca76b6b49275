// Package stdio serves request envelopes over a line-oriented stream: one JSON
// request per input line, one JSON response per output line, in order.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// MaxLineBytes is the longest request line accepted.
const MaxLineBytes = 4 << 20

var errLineTooLong = errors.New("line too long")

// Option configures Serve.
type Option func(*server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *server) { s.logger = logger }
}

// WithMaxLineBytes overrides MaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(s *server) { s.maxLine = n }
}

type server struct {
	d       transportcore.Dispatcher
	logger  *slog.Logger
	maxLine int
}

type line struct {
	data []byte
	err  error
}

// Serve reads requests from in until EOF and writes one response line to out
// for each, flushing before the next line is read. Blank lines are skipped.
// It returns nil at EOF, ctx.Err() when ctx is cancelled, and an error if in
// cannot be read or out cannot be written.
//
// A read blocked on in cannot be interrupted; after cancellation the reading
// goroutine exits once in returns.
func Serve(ctx context.Context, in io.Reader, out io.Writer, d transportcore.Dispatcher, opts ...Option) error {
	if d == nil {
		panic("dispatcher cannot be nil")
	}
	s := &server{d: d, logger: slog.Default(), maxLine: MaxLineBytes}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxLine <= 0 {
		s.maxLine = MaxLineBytes
	}

	next := make(chan struct{})
	lines := make(chan line)
	done := make(chan struct{})
	defer close(done)

	go s.read(bufio.NewReaderSize(in, 64<<10), next, lines, done)

	w := bufio.NewWriter(out)
	for {
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		var l line
		select {
		case l = <-lines:
		case <-ctx.Done():
			return ctx.Err()
		}

		if l.err == io.EOF {
			return nil
		}

		var resp envelope.Response
		switch {
		case errors.Is(l.err, errLineTooLong):
			resp = envelope.DecodeErrorResponse(&envelope.DecodeError{Reason: fmt.Sprintf("line exceeds %d bytes", s.maxLine)})
		case l.err != nil:
			return fmt.Errorf("read request: %w", l.err)
		default:
			if len(bytes.TrimSpace(l.data)) == 0 {
				continue
			}
			resp = s.handle(ctx, l.data)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeLine(w, resp); err != nil {
			return err
		}
	}
}

func (s *server) handle(ctx context.Context, data []byte) envelope.Response {
	req, err := envelope.Decode(data)
	if err != nil {
		s.logger.Debug("undecodable request line", "error", err)
		return envelope.DecodeErrorResponse(err)
	}
	return s.d.Dispatch(ctx, req)
}

func writeLine(w *bufio.Writer, resp envelope.Response) error {
	if _, err := w.Write(envelope.Encode(resp)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}

// read delivers one line per request on next until EOF, an error, or done.
func (s *server) read(r *bufio.Reader, next <-chan struct{}, lines chan<- line, done <-chan struct{}) {
	for {
		select {
		case <-next:
		case <-done:
			return
		}

		data, err := readLine(r, s.maxLine)
		select {
		case lines <- line{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil && !errors.Is(err, errLineTooLong) {
			return
		}
	}
}

// readLine returns the next line without its terminator. A line whose content
// is longer than limit is consumed and reported as errLineTooLong. A final line without a
// newline is returned normally; io.EOF is reported only when nothing is left.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			// Content past limit plus the longest terminator can never fit.
			if len(buf)+len(chunk) > limit+len("\r\n") {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			return lineContent(buf, tooLong, limit)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !tooLong && len(buf) == 0 {
				return nil, io.EOF
			}
			return lineContent(buf, tooLong, limit)
		default:
			return nil, err
		}
	}
}

func lineContent(buf []byte, tooLong bool, limit int) ([]byte, error) {
	if tooLong {
		return nil, errLineTooLong
	}
	content := bytes.TrimRight(buf, "\r\n")
	if len(content) > limit {
		return nil, errLineTooLong
	}
	return content, nil
}
