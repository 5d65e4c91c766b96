package serialport

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/ardlink/go-ardlink/ardlink"
)

// readChunkSize is the size of the scratch buffer used for port reads.
const readChunkSize = 256

// Transport adapts an open serial port into a line-oriented
// ardlink.Transport. The line discipline matches ardlink.StreamTransport:
// partial input survives read timeouts in a residual buffer, and overlong
// lines are discarded with ErrLineTooLong.
type Transport struct {
	port       serial.Port
	endpoint   string
	maxLineLen int

	writeMu sync.Mutex
	closed  atomic.Bool

	// Residual stream state. Owned by the single reader per the Transport
	// contract.
	rbuf    []byte
	chunk   []byte
	pending []string
}

var _ ardlink.Transport = (*Transport)(nil)

// NewTransport wraps an already-open serial port. endpoint is the port name
// used for logging and callbacks; maxLineLen of zero selects
// ardlink.DefaultMaxLineLength.
func NewTransport(port serial.Port, endpoint string, maxLineLen int) *Transport {
	if maxLineLen <= 0 {
		maxLineLen = ardlink.DefaultMaxLineLength
	}

	return &Transport{
		port:       port,
		endpoint:   endpoint,
		maxLineLen: maxLineLen,
		chunk:      make([]byte, readChunkSize),
	}
}

// Endpoint returns the serial port name.
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// ReadLine blocks until a complete line arrives, the timeout elapses, or the
// port fails. The returned line is whitespace-trimmed.
//
// A serial read with a timeout returns zero bytes rather than an error, so
// the deadline is tracked here and the port timeout re-armed with the
// remaining window on each pass.
func (t *Transport) ReadLine(timeout time.Duration) (string, error) {
	if t.closed.Load() {
		return "", ardlink.ErrTransportClosed
	}

	if line, ok := t.popPending(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ardlink.ErrLineTimeout
		}

		if err := t.port.SetReadTimeout(remaining); err != nil {
			t.closed.Store(true)
			return "", fmt.Errorf("%w: %v", ardlink.ErrTransportClosed, err)
		}

		n, err := t.port.Read(t.chunk)
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
			t.closed.Store(true)
			return "", fmt.Errorf("%w: %v", ardlink.ErrTransportClosed, err)
		}

		if n == 0 {
			// timed out with no data
			return "", ardlink.ErrLineTimeout
		}
	}
}

// WriteLine writes a single newline-terminated line. Safe for concurrent use.
func (t *Transport) WriteLine(line string) error {
	if t.closed.Load() {
		return ardlink.ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.port.Write(append([]byte(line), '\n')); err != nil {
		t.closed.Store(true)
		return fmt.Errorf("%w: %v", ardlink.ErrTransportClosed, err)
	}

	return nil
}

// Close releases the serial port. Idempotent.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := t.port.Close(); err != nil {
		return fmt.Errorf("serialport: close %s: %w", t.endpoint, err)
	}

	return nil
}

func (t *Transport) splitLines() error {
	for {
		idx := bytes.IndexByte(t.rbuf, '\n')
		if idx < 0 {
			break
		}

		t.pending = append(t.pending, ardlink.TrimLine(string(t.rbuf[:idx])))
		t.rbuf = t.rbuf[idx+1:]
	}

	if len(t.rbuf) > t.maxLineLen {
		t.rbuf = t.rbuf[:0]
		return ardlink.ErrLineTooLong
	}

	return nil
}

func (t *Transport) popPending() (string, bool) {
	if len(t.pending) == 0 {
		return "", false
	}

	line := t.pending[0]
	t.pending = t.pending[1:]

	return line, true
}
