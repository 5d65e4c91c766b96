// Package serialport provides the serial-port transport for ardlink: a
// line Transport over go.bug.st/serial, a baud-configurable Dialer, and an
// Enumerator that lists system serial ports (skipping Bluetooth bridges,
// which enumerate as serial ports on some systems but never carry devices).
package serialport
