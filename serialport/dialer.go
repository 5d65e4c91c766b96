package serialport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/ardlink/go-ardlink/ardlink"
)

// DefaultBaudRate is the baud rate used when none is configured.
const DefaultBaudRate = 115200

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithBaudRate sets the baud rate for opened ports.
func WithBaudRate(baud int) DialerOption {
	return func(d *Dialer) { d.mode.BaudRate = baud }
}

// WithMode replaces the full serial mode (parity, data bits, stop bits).
func WithMode(mode serial.Mode) DialerOption {
	return func(d *Dialer) { d.mode = mode }
}

// WithMaxLineLength caps incoming line length on opened transports.
func WithMaxLineLength(n int) DialerOption {
	return func(d *Dialer) { d.maxLineLen = n }
}

// Dialer opens serial ports as ardlink line transports.
type Dialer struct {
	mode       serial.Mode
	maxLineLen int
}

var _ ardlink.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer with 8N1 framing at DefaultBaudRate.
func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		mode: serial.Mode{BaudRate: DefaultBaudRate},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens the named serial port and discards any stale input buffered by
// the OS, so the session starts on a clean line boundary.
func (d *Dialer) Dial(endpoint string) (ardlink.Transport, error) {
	port, err := serial.Open(endpoint, &d.mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", endpoint, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serialport: reset %s: %w", endpoint, err)
	}

	return NewTransport(port, endpoint, d.maxLineLen), nil
}
