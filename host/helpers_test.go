package host

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/ardlink/go-ardlink/device"
)

// testContext mirrors testing.T.Context (Go 1.24): a context canceled
// when the test's cleanup functions run.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// peerPort adapts a stream transport to the device Port interface.
type peerPort struct {
	*ardlink.StreamTransport
}

func (p *peerPort) Begin(baud int) error { return nil }

// devicePeer runs a real device-side session on one half of a net.Pipe and
// exposes the host half as a transport. Update is pumped in the background
// until the pipe dies or the test ends.
type devicePeer struct {
	t        *testing.T
	identity string
	sess     *device.Session
	hostTr   *ardlink.StreamTransport
	hostConn net.Conn
	devConn  net.Conn
	handler  atomic.Value // func(string)
	done     chan struct{}
	killOnce sync.Once
}

func startDevicePeer(t *testing.T, identity string) *devicePeer {
	t.Helper()

	hostConn, devConn := net.Pipe()
	p := &devicePeer{
		t:        t,
		identity: identity,
		hostTr:   ardlink.NewStreamTransport(hostConn, "pipe-host", 0),
		hostConn: hostConn,
		devConn:  devConn,
		done:     make(chan struct{}),
	}

	devTr := ardlink.NewStreamTransport(devConn, "pipe-device", 0)
	sess, err := device.NewSession(identity, &peerPort{devTr},
		device.WithPollTimeout(5*time.Millisecond),
		device.WithCommandHandler(device.CommandHandlerFunc(func(line string) {
			if h := p.handler.Load(); h != nil {
				h.(func(string))(line)
			}
		})),
	)
	require.NoError(t, err)
	require.NoError(t, sess.Begin(9600))
	p.sess = sess

	go func() {
		defer close(p.done)
		for {
			if err := sess.Update(); err != nil {
				return
			}
		}
	}()

	t.Cleanup(p.kill)
	return p
}

// onCommand replaces the peer's command handler.
func (p *devicePeer) onCommand(fn func(line string)) {
	p.handler.Store(fn)
}

// send pushes an unsolicited data line from the device.
func (p *devicePeer) send(line string) {
	require.NoError(p.t, p.sess.SendData(line))
}

// kill severs the pipe, simulating cable loss.
func (p *devicePeer) kill() {
	p.killOnce.Do(func() {
		_ = p.devConn.Close()
		_ = p.hostConn.Close()
		<-p.done
	})
}

// endpointSim simulates a set of endpoints, each occupied by a device with a
// fixed identity. Every successful dial spawns a fresh device peer, like
// reopening a serial port after a cable was replugged.
type endpointSim struct {
	t *testing.T

	mu         sync.Mutex
	order      []string
	identities map[string]string
	dialErrs   map[string]error
	dialCounts map[string]int
	peers      map[string]*devicePeer
}

func newEndpointSim(t *testing.T) *endpointSim {
	return &endpointSim{
		t:          t,
		identities: make(map[string]string),
		dialErrs:   make(map[string]error),
		dialCounts: make(map[string]int),
		peers:      make(map[string]*devicePeer),
	}
}

// addDevice attaches a device with the given identity to an endpoint.
func (s *endpointSim) addDevice(endpoint, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, endpoint)
	s.identities[endpoint] = identity
}

// addDeadEndpoint adds an endpoint whose dial always fails.
func (s *endpointSim) addDeadEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, endpoint)
	s.dialErrs[endpoint] = errors.New("endpoint busy")
}

// peer returns the most recently dialed device on the endpoint.
func (s *endpointSim) peer(endpoint string) *devicePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.peers[endpoint]
	require.NotNil(s.t, p, "no live peer on %s", endpoint)
	return p
}

func (s *endpointSim) dials(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialCounts[endpoint]
}

func (s *endpointSim) enumerator() ardlink.Enumerator {
	return ardlink.EnumeratorFunc(func() ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return append([]string(nil), s.order...), nil
	})
}

func (s *endpointSim) dialer() ardlink.Dialer {
	return ardlink.DialerFunc(func(endpoint string) (ardlink.Transport, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.dialCounts[endpoint]++
		if err, ok := s.dialErrs[endpoint]; ok {
			return nil, err
		}
		identity, ok := s.identities[endpoint]
		if !ok {
			return nil, errors.New("no such endpoint")
		}

		peer := startDevicePeer(s.t, identity)
		s.peers[endpoint] = peer
		return peer.hostTr, nil
	})
}

// newTestConnection builds a Connection against the sim with fast timings.
func newTestConnection(t *testing.T, sim *endpointSim, identity string, opts ...ConnOption) *Connection {
	t.Helper()

	base := []ConnOption{
		WithHandshakeTimeout(500 * time.Millisecond),
		WithCommandTimeout(500 * time.Millisecond),
		WithPollTimeout(5 * time.Millisecond),
		WithRetryDelay(10*time.Millisecond, 80*time.Millisecond),
		WithLinkCheckInterval(0),
	}
	cfg, err := NewConnectionConfig(identity, sim.enumerator(), sim.dialer(), append(base, opts...)...)
	require.NoError(t, err)

	conn, err := NewConnection(testContext(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), msg)
}
