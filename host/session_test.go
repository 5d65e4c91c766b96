package host

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardlink/go-ardlink/ardlink"
)

func TestSessionAuthenticate(t *testing.T) {
	peer := startDevicePeer(t, "Venus")

	sess := NewSession(peer.hostTr, "Venus", 500*time.Millisecond, nil)
	require.False(t, sess.IsAuthenticated())

	require.NoError(t, sess.Authenticate())
	assert.True(t, sess.IsAuthenticated())
}

func TestSessionAuthenticateIdentityMismatch(t *testing.T) {
	peer := startDevicePeer(t, "Mars")

	sess := NewSession(peer.hostTr, "Venus", 500*time.Millisecond, nil)
	err := sess.Authenticate()
	require.ErrorIs(t, err, ardlink.ErrIdentityMismatch)
	assert.False(t, sess.IsAuthenticated())
}

func TestSessionAuthenticateSilentDevice(t *testing.T) {
	hostConn, devConn := net.Pipe()
	t.Cleanup(func() {
		_ = hostConn.Close()
		_ = devConn.Close()
	})

	// This device drains input but never answers.
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := devConn.Read(buf); err != nil {
				return
			}
		}
	}()

	tr := ardlink.NewStreamTransport(hostConn, "pipe-host", 0)
	sess := NewSession(tr, "Venus", 100*time.Millisecond, nil)

	start := time.Now()
	err := sess.Authenticate()
	require.ErrorIs(t, err, ardlink.ErrHandshakeTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestSessionAuthenticateSkipsStrayLines(t *testing.T) {
	hostConn, devConn := net.Pipe()
	t.Cleanup(func() {
		_ = hostConn.Close()
		_ = devConn.Close()
	})

	// Scripted device that emits boot noise around the handshake.
	go func() {
		devTr := ardlink.NewStreamTransport(devConn, "pipe-device", 0)
		if line, err := devTr.ReadLine(time.Second); err != nil || line != ardlink.ChallengeLine {
			return
		}
		_ = devTr.WriteLine("Venus")
		if line, err := devTr.ReadLine(time.Second); err != nil || line != ardlink.AuthSuccessLine {
			return
		}
		_ = devTr.WriteLine("boot: sensors ready")
		_ = devTr.WriteLine(ardlink.AuthConfirmLine)
	}()

	tr := ardlink.NewStreamTransport(hostConn, "pipe-host", 0)
	sess := NewSession(tr, "Venus", time.Second, nil)
	require.NoError(t, sess.Authenticate())
	assert.True(t, sess.IsAuthenticated())
}

func TestSessionAuthenticateTransportClosed(t *testing.T) {
	hostConn, devConn := net.Pipe()
	_ = devConn.Close()
	_ = hostConn.Close()

	tr := ardlink.NewStreamTransport(hostConn, "pipe-host", 0)
	sess := NewSession(tr, "Venus", 100*time.Millisecond, nil)
	require.ErrorIs(t, sess.Authenticate(), ardlink.ErrTransportClosed)
}
