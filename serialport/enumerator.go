package serialport

import (
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/ardlink/go-ardlink/ardlink"
)

// EnumeratorOption configures an Enumerator.
type EnumeratorOption func(*Enumerator)

// WithBluetoothPorts includes Bluetooth bridge ports in the candidate list.
// They are skipped by default: opening them can block for seconds and no
// wired device ever sits behind one.
func WithBluetoothPorts() EnumeratorOption {
	return func(e *Enumerator) { e.includeBluetooth = true }
}

// WithPortFilter adds a predicate; only ports it accepts are listed.
func WithPortFilter(filter func(name string) bool) EnumeratorOption {
	return func(e *Enumerator) { e.filters = append(e.filters, filter) }
}

// Enumerator lists the system's serial ports as candidate endpoints.
type Enumerator struct {
	includeBluetooth bool
	filters          []func(name string) bool
}

var _ ardlink.Enumerator = (*Enumerator)(nil)

// NewEnumerator creates an Enumerator that skips Bluetooth bridge ports.
func NewEnumerator(opts ...EnumeratorOption) *Enumerator {
	e := &Enumerator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates returns the filtered serial port list in system order.
func (e *Enumerator) Candidates() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}

	return e.filter(ports), nil
}

func (e *Enumerator) filter(ports []string) []string {
	candidates := make([]string, 0, len(ports))

outer:
	for _, name := range ports {
		if !e.includeBluetooth && isBluetoothPort(name) {
			continue
		}
		for _, accept := range e.filters {
			if !accept(name) {
				continue outer
			}
		}
		candidates = append(candidates, name)
	}

	return candidates
}

// isBluetoothPort reports whether a port name looks like a Bluetooth serial
// bridge (e.g. /dev/cu.Bluetooth-Incoming-Port on macOS, /dev/rfcomm0 on
// Linux).
func isBluetoothPort(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "bluetooth") || strings.Contains(lower, "rfcomm")
}
