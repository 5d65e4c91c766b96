package ardlink

import "errors"

var (
	// ErrReservedIdentity indicates that an identity string is empty, spans
	// multiple lines, or collides with a protocol control literal.
	ErrReservedIdentity = errors.New("ardlink: identity is reserved or malformed")

	// ErrHandshakeTimeout indicates that no (or only a partial) handshake
	// reply arrived within the handshake deadline.
	ErrHandshakeTimeout = errors.New("ardlink: handshake timeout")

	// ErrIdentityMismatch indicates that the claimed identity did not match
	// the configured identity byte-for-byte.
	ErrIdentityMismatch = errors.New("ardlink: identity mismatch")
)

var (
	// ErrLineTimeout indicates that no complete line arrived within the
	// read deadline. Partial data stays buffered for the next read.
	ErrLineTimeout = errors.New("ardlink: line read timeout")

	// ErrLineTooLong indicates that an incoming line exceeded the maximum
	// line length before a newline was seen.
	ErrLineTooLong = errors.New("ardlink: line exceeds maximum length")

	// ErrTransportClosed indicates that the underlying byte stream is gone.
	ErrTransportClosed = errors.New("ardlink: transport closed")
)

var (
	// ErrCommandTimedOut indicates that no response line arrived within a
	// command's deadline. A late line is delivered as a broadcast datum.
	ErrCommandTimedOut = errors.New("ardlink: command timed out")

	// ErrConnClosed indicates that the connection was closed or lost while
	// an operation was outstanding.
	ErrConnClosed = errors.New("ardlink: connection closed")

	// ErrNoEndpoints indicates that no candidate endpoint accepted a
	// connection and completed the handshake.
	ErrNoEndpoints = errors.New("ardlink: no endpoint available")

	// ErrInvalidTransition is returned when an attempt is made to move the
	// connection state machine through a disallowed transition.
	ErrInvalidTransition = errors.New("ardlink: invalid state transition")
)
