package host

import "sync/atomic"

// ConnectionMetrics tracks connection activity with atomic counters. All
// methods are safe for concurrent use.
type ConnectionMetrics struct {
	cmdSent       atomic.Uint64
	cmdReplied    atomic.Uint64
	cmdTimedOut   atomic.Uint64
	broadcastRecv atomic.Uint64
	handshakeFail atomic.Uint64
	disconnects   atomic.Uint64
	reconnects    atomic.Uint64
	retryGauge    atomic.Int64
}

func (m *ConnectionMetrics) incCommandSent()    { m.cmdSent.Add(1) }
func (m *ConnectionMetrics) incCommandReplied() { m.cmdReplied.Add(1) }
func (m *ConnectionMetrics) incCommandTimeout() { m.cmdTimedOut.Add(1) }
func (m *ConnectionMetrics) incBroadcastRecv()  { m.broadcastRecv.Add(1) }
func (m *ConnectionMetrics) incHandshakeFail()  { m.handshakeFail.Add(1) }
func (m *ConnectionMetrics) incDisconnects()    { m.disconnects.Add(1) }
func (m *ConnectionMetrics) incReconnects()     { m.reconnects.Add(1) }
func (m *ConnectionMetrics) incRetryGauge()     { m.retryGauge.Add(1) }
func (m *ConnectionMetrics) resetRetryGauge()   { m.retryGauge.Store(0) }

// CommandsSent returns the number of commands written to the transport.
func (m *ConnectionMetrics) CommandsSent() uint64 { return m.cmdSent.Load() }

// CommandsReplied returns the number of commands that received a reply line.
func (m *ConnectionMetrics) CommandsReplied() uint64 { return m.cmdReplied.Load() }

// CommandsTimedOut returns the number of commands that expired unanswered.
func (m *ConnectionMetrics) CommandsTimedOut() uint64 { return m.cmdTimedOut.Load() }

// BroadcastsReceived returns the number of unsolicited lines received.
func (m *ConnectionMetrics) BroadcastsReceived() uint64 { return m.broadcastRecv.Load() }

// HandshakeFailures returns the number of failed authentication attempts.
func (m *ConnectionMetrics) HandshakeFailures() uint64 { return m.handshakeFail.Load() }

// Disconnects returns the number of connection losses observed.
func (m *ConnectionMetrics) Disconnects() uint64 { return m.disconnects.Load() }

// Reconnects returns the number of successful recoveries after loss.
func (m *ConnectionMetrics) Reconnects() uint64 { return m.reconnects.Load() }

// RetryAttempts returns the reconnect attempts of the current outage, or
// zero while connected.
func (m *ConnectionMetrics) RetryAttempts() int64 { return m.retryGauge.Load() }
