package ardlink

import "time"

// Transport is a line-oriented endpoint over a raw byte stream.
//
// A Transport carries exactly one session: a new Transport always starts a
// fresh, unauthenticated session, and a Transport that becomes unusable is
// discarded, never reused.
//
// Reading is single-consumer: exactly one goroutine may call ReadLine at a
// time. WriteLine is safe for concurrent use.
type Transport interface {
	// ReadLine blocks until a complete line is received, the timeout
	// elapses, or the transport fails.
	//
	// The returned line is whitespace-trimmed. On timeout it returns
	// ErrLineTimeout and any partial data stays buffered for the next call.
	// Once the underlying stream is gone, every call returns an error that
	// matches ErrTransportClosed via errors.Is.
	ReadLine(timeout time.Duration) (string, error)

	// WriteLine writes a single newline-terminated line.
	WriteLine(line string) error

	// Close releases the underlying stream. Blocked readers are unblocked
	// with ErrTransportClosed. Close is idempotent.
	Close() error

	// Endpoint returns the identifier of the underlying endpoint, e.g. a
	// serial port path.
	Endpoint() string
}

// Enumerator produces an ordered sequence of candidate endpoints the host
// may try to open. Implementations must not embed connection logic; ordering
// preferences (e.g. most-recently-successful first) are applied by the
// connection manager on top of the enumerated order.
type Enumerator interface {
	// Candidates returns the currently visible endpoints, most preferred
	// first. An empty slice with a nil error means nothing is visible
	// right now.
	Candidates() ([]string, error)
}

// Dialer opens a single candidate endpoint as a Transport.
type Dialer interface {
	// Dial opens endpoint and returns a ready-to-use Transport.
	Dial(endpoint string) (Transport, error)
}

// EnumeratorFunc adapts a plain function to the Enumerator interface.
type EnumeratorFunc func() ([]string, error)

func (f EnumeratorFunc) Candidates() ([]string, error) { return f() }

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(endpoint string) (Transport, error)

func (f DialerFunc) Dial(endpoint string) (Transport, error) { return f(endpoint) }

// FixedEndpoints returns an Enumerator that always yields the given
// endpoints in the given order.
func FixedEndpoints(endpoints ...string) Enumerator {
	return EnumeratorFunc(func() ([]string, error) {
		out := make([]string, len(endpoints))
		copy(out, endpoints)

		return out, nil
	})
}
