package device

import (
	"net"
	"testing"
	"time"

	"github.com/ardlink/go-ardlink/ardlink"
)

// pipePort is a Port over the local end of a net.Pipe.
type pipePort struct {
	*ardlink.StreamTransport
	beginBaud int
}

func (p *pipePort) Begin(baud int) error {
	p.beginBaud = baud
	return nil
}

// newPipePort creates a device Port and the host-facing transport connected
// to it through an in-memory pipe.
func newPipePort(t *testing.T) (*pipePort, *ardlink.StreamTransport) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	port := &pipePort{StreamTransport: ardlink.NewStreamTransport(local, "dev-pipe", 0)}
	host := ardlink.NewStreamTransport(remote, "host-pipe", 0)

	return port, host
}

// pumpSession runs sess.Update in a background loop until the test ends,
// emulating the device's main loop.
func pumpSession(t *testing.T, sess *Session) {
	t.Helper()

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				if err := sess.Update(); err != nil {
					return
				}
			}
		}
	}()
}

// countingSignaler counts Signal invocations.
type countingSignaler struct {
	signals chan struct{}
}

func newCountingSignaler() *countingSignaler {
	return &countingSignaler{signals: make(chan struct{}, 16)}
}

func (c *countingSignaler) Signal() { c.signals <- struct{}{} }
func (c *countingSignaler) Stop()   {}

func (c *countingSignaler) waitSignal(t *testing.T) {
	t.Helper()

	select {
	case <-c.signals:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for acknowledgment signal")
	}
}
