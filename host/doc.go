// Package host implements the host-side endpoint of the ardlink protocol:
// the authentication handshake, the command channel, broadcast-data
// delivery, and the connection-lifecycle manager.
//
// # Connection Lifecycle
//
// A Connection owns its Transport end-to-end. Connect probes candidate
// endpoints from a pluggable Enumerator (most-recently-successful first),
// dials each with a pluggable Dialer, and runs the handshake on the first
// endpoint that accepts. Transport loss moves the connection to the
// Disconnected state, fires the disconnect callback exactly once, and — when
// auto-reconnect is enabled — starts the backoff reconnect loop, which
// re-runs the handshake before command and broadcast traffic resumes.
//
// # Concurrency
//
// Exactly one reader goroutine drains the Transport and fans lines out to
// the pending command slot (first line since issuance) or to the broadcast
// queue. Command issuance is serialized; at most one command is in flight at
// any instant. Closing the Connection unblocks every pending command with a
// closed indication and every broadcast reader with end-of-stream.
package host
