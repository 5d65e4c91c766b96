package ardlink

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxLineLength is the maximum accepted line length when no explicit
// limit is configured.
const DefaultMaxLineLength = 4096

// readChunkSize is the size of the scratch buffer used for stream reads.
const readChunkSize = 512

// StreamTransport adapts any net.Conn into a line-oriented Transport using
// read deadlines for timed line reads.
//
// It is used for TCP-backed links and for in-memory test links via net.Pipe.
// Serial links use the serialport package instead, which builds the same
// line discipline on top of a serial port's read timeout.
type StreamTransport struct {
	conn       net.Conn
	endpoint   string
	maxLineLen int

	writeMu sync.Mutex
	closed  atomic.Bool

	// Residual stream state. Owned by the single reader; never accessed
	// concurrently per the Transport contract.
	rbuf    []byte
	chunk   []byte
	pending []string
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport creates a line Transport over conn.
//
// endpoint identifies the underlying link for logging and callbacks.
// maxLineLen caps incoming line length; zero selects DefaultMaxLineLength.
func NewStreamTransport(conn net.Conn, endpoint string, maxLineLen int) *StreamTransport {
	if maxLineLen <= 0 {
		maxLineLen = DefaultMaxLineLength
	}

	return &StreamTransport{
		conn:       conn,
		endpoint:   endpoint,
		maxLineLen: maxLineLen,
		chunk:      make([]byte, readChunkSize),
	}
}

// Endpoint returns the endpoint identifier given at construction.
func (t *StreamTransport) Endpoint() string {
	return t.endpoint
}

// ReadLine blocks until a complete line arrives, the timeout elapses, or the
// stream fails. The returned line is whitespace-trimmed.
func (t *StreamTransport) ReadLine(timeout time.Duration) (string, error) {
	if t.closed.Load() {
		return "", ErrTransportClosed
	}

	if line, ok := t.popPending(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)

	for {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			t.closed.Store(true)
			return "", fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}

		n, err := t.conn.Read(t.chunk)
		if n > 0 {
			t.rbuf = append(t.rbuf, t.chunk[:n]...)

			if splitErr := t.splitLines(); splitErr != nil {
				return "", splitErr
			}

			if line, ok := t.popPending(); ok {
				return line, nil
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", ErrLineTimeout
			}

			t.closed.Store(true)

			return "", fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
	}
}

// WriteLine writes a single newline-terminated line. Safe for concurrent use.
func (t *StreamTransport) WriteLine(line string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.conn.Write(append([]byte(line), '\n')); err != nil {
		t.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}

	return nil
}

// Close releases the underlying stream. Idempotent.
func (t *StreamTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("ardlink: close transport: %w", err)
	}

	return nil
}

// splitLines moves complete lines from the residual buffer into the pending
// queue. An overlong partial line is discarded and reported.
func (t *StreamTransport) splitLines() error {
	for {
		idx := bytes.IndexByte(t.rbuf, '\n')
		if idx < 0 {
			break
		}

		t.pending = append(t.pending, TrimLine(string(t.rbuf[:idx])))
		t.rbuf = t.rbuf[idx+1:]
	}

	if len(t.rbuf) > t.maxLineLen {
		// Drop the garbage so the next read starts clean.
		t.rbuf = t.rbuf[:0]
		return ErrLineTooLong
	}

	return nil
}

func (t *StreamTransport) popPending() (string, bool) {
	if len(t.pending) == 0 {
		return "", false
	}

	line := t.pending[0]
	t.pending = t.pending[1:]

	return line, true
}
