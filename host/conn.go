package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/ardlink/go-ardlink/internal/pool"
	"github.com/ardlink/go-ardlink/logger"
)

// DisconnectCallback is invoked once per connection loss, after the failed
// transport is released. It runs on an internal goroutine; keep it short.
type DisconnectCallback func(endpoint string)

// ReconnectCallback is invoked once per recovery, after the handshake on the
// new transport has completed and commands can be issued again.
type ReconnectCallback func(endpoint string)

// DataHandler consumes unsolicited broadcast lines. Handlers registered with
// AddDataHandler receive every broadcast line on a dedicated goroutine, in
// arrival order. A line consumed by a handler is also available via ReadData.
type DataHandler func(line string)

// Connection manages the full host-side lifecycle against one device:
// endpoint discovery, handshake, command traffic, broadcast delivery, loss
// detection, and automatic reconnection with exponential backoff.
//
// All methods are safe for concurrent use.
type Connection struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	stateMgr *ardlink.ConnStateMgr
	taskMgr  *ardlink.TaskManager
	opState  ardlink.AtomicOpState

	loopCtx    context.Context
	loopCancel context.CancelFunc

	transportMu  sync.RWMutex
	transport    ardlink.Transport
	lastEndpoint string

	// connectMu serializes probe passes: a manual Connect racing the
	// reconnect loop must never yield two concurrent dials, two live
	// transports, or two reader goroutines.
	connectMu sync.Mutex

	cmdMu   sync.Mutex // serializes SendCommand
	pending atomic.Pointer[pendingCommand]

	broadcast *broadcastBuffer

	dataMu       sync.RWMutex
	dataHandlers []DataHandler
	dataChans    []chan string

	cbMu         sync.RWMutex
	disconnectCb DisconnectCallback
	reconnectCb  ReconnectCallback

	// lastSuccess records when each endpoint last completed a handshake so
	// reconnection probes the most recently working endpoint first.
	lastSuccess *xsync.MapOf[string, time.Time]

	autoReconnect      atomic.Bool
	shutdown           atomic.Bool
	haltReconnect      atomic.Bool
	reconnectRunning   atomic.Bool
	reconnectGen       atomic.Uint64
	wasDown            atomic.Bool
	disconnectNotified atomic.Bool

	metrics ConnectionMetrics
}

// NewConnection creates a Connection from cfg. The context bounds the whole
// connection lifetime; canceling it has the same effect as Close.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, errors.New("ardlink: connection config is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := &Connection{
		cfg:         cfg,
		logger:      cfg.logger,
		broadcast:   newBroadcastBuffer(cfg.broadcastQueueSize),
		lastSuccess: xsync.NewMapOf[string, time.Time](),
	}
	c.loopCtx, c.loopCancel = context.WithCancel(ctx)
	c.autoReconnect.Store(cfg.autoReconnect)

	c.stateMgr = ardlink.NewConnStateMgr(cfg.logger, c.connStateHandler)
	c.taskMgr = ardlink.NewTaskManager(c.loopCtx, cfg.logger)
	c.stateMgr.Start(c.loopCtx)

	return c, nil
}

// Connect probes candidate endpoints and returns the endpoint of the first
// device that completes the handshake with the expected identity.
//
// On failure it returns the most informative probe error; when
// auto-reconnect is enabled the backoff loop keeps retrying in the
// background unless the failure was an identity mismatch.
func (c *Connection) Connect() (string, error) {
	if c.shutdown.Load() || c.stateMgr.IsClosed() {
		return "", ardlink.ErrConnClosed
	}
	if c.stateMgr.IsConnected() {
		return c.Endpoint(), nil
	}

	// A manual Connect is an explicit retry; it clears a mismatch halt.
	c.haltReconnect.Store(false)

	return c.tryConnect()
}

// State returns the current lifecycle state.
func (c *Connection) State() ardlink.ConnState { return c.stateMgr.State() }

// IsConnected reports whether an authenticated session is active.
func (c *Connection) IsConnected() bool { return c.stateMgr.IsConnected() }

// Endpoint returns the endpoint of the current session, or of the most
// recent one if the connection is down.
func (c *Connection) Endpoint() string {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	return c.lastEndpoint
}

// Metrics returns the connection's activity counters.
func (c *Connection) Metrics() *ConnectionMetrics { return &c.metrics }

// EnableAutoReconnect turns the background reconnect loop on or off. It
// affects the next loss; it does not interrupt a loop already running.
func (c *Connection) EnableAutoReconnect(enable bool) {
	c.autoReconnect.Store(enable)
}

// SetDisconnectCallback registers the callback fired once per loss.
func (c *Connection) SetDisconnectCallback(cb DisconnectCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.disconnectCb = cb
}

// SetReconnectCallback registers the callback fired once per recovery.
func (c *Connection) SetReconnectCallback(cb ReconnectCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.reconnectCb = cb
}

// AddDataHandler registers a broadcast line consumer. Handlers must be
// registered before Connect.
func (c *Connection) AddDataHandler(handler DataHandler) error {
	if handler == nil {
		return errors.New("ardlink: data handler cannot be nil")
	}

	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	c.dataHandlers = append(c.dataHandlers, handler)
	c.dataChans = append(c.dataChans, make(chan string, c.cfg.dataChanSize))
	return nil
}

// WaitConnected blocks until the connection is established or ctx is done.
func (c *Connection) WaitConnected(ctx context.Context) error {
	return c.stateMgr.WaitState(ctx, ardlink.ConnectedState)
}

// SendCommand writes one command line and waits for the device's reply line.
// A non-positive timeout uses the configured default.
//
// Commands are serialized; at most one is in flight at a time. If the reply
// does not arrive in time, SendCommand returns ErrCommandTimedOut and a late
// reply is delivered as broadcast data instead. If the connection is down or
// closes mid-wait, it returns ErrConnClosed immediately.
func (c *Connection) SendCommand(text string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.cfg.commandTimeout
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.shutdown.Load() || !c.stateMgr.IsConnected() {
		return "", ardlink.ErrConnClosed
	}
	transport := c.getTransport()
	if transport == nil {
		return "", ardlink.ErrConnClosed
	}

	cmd := newPendingCommand(text)
	c.pending.Store(cmd)
	defer c.pending.CompareAndSwap(cmd, nil)

	c.metrics.incCommandSent()
	if err := transport.WriteLine(text); err != nil {
		cmd.fail(ardlink.ErrConnClosed)
		c.handleTransportLoss(err)
		return "", ardlink.ErrConnClosed
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case res := <-cmd.result:
		if res.err != nil {
			return "", res.err
		}
		return res.line, nil

	case <-timer.C:
		if cmd.expire() {
			c.metrics.incCommandTimeout()
			return "", ardlink.ErrCommandTimedOut
		}
		// a reply or failure won the race just before the deadline
		res := <-cmd.result
		if res.err != nil {
			return "", res.err
		}
		return res.line, nil

	case <-c.loopCtx.Done():
		cmd.fail(ardlink.ErrConnClosed)
		return "", ardlink.ErrConnClosed
	}
}

// ReadData blocks until an unsolicited broadcast line is available, ctx is
// done, or the connection is closed and the buffer drained.
func (c *Connection) ReadData(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.broadcast.read(ctx)
}

// PendingData returns the number of buffered broadcast lines.
func (c *Connection) PendingData() int { return c.broadcast.length() }

// Close releases the transport, stops all background goroutines, and
// unblocks every pending SendCommand and ReadData call. It is idempotent.
func (c *Connection) Close() error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	c.opState.ToClosing()
	c.reconnectGen.Add(1)
	c.autoReconnect.Store(false)
	c.loopCancel()

	_ = c.stateMgr.To(ardlink.ClosedState)

	c.clearTransport()
	c.taskMgr.Stop()
	c.taskMgr.Wait()
	c.stateMgr.Stop()

	c.failPending(ardlink.ErrConnClosed)
	c.broadcast.close()
	c.opState.ToClosed()

	c.logger.Debug("connection closed", "endpoint", c.Endpoint())
	return nil
}

// tryConnect runs at most one probe pass at a time. Losers of the race
// (a manual Connect against the reconnect loop, or vice versa) block on the
// mutex and then observe the winner's session instead of dialing again.
func (c *Connection) tryConnect() (string, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.shutdown.Load() {
		return "", ardlink.ErrConnClosed
	}
	if c.stateMgr.IsConnected() {
		return c.Endpoint(), nil
	}

	// The op state cycles Closed -> Opening -> Opened -> Closing -> Closed
	// per session; failing the CAS here means Close is racing us.
	if !c.opState.ToOpening() {
		return "", ardlink.ErrConnClosed
	}

	endpoint, err := c.probeCandidates()
	if err != nil {
		c.opState.ToClosing()
		c.opState.ToClosed()
		return "", err
	}

	c.opState.ToOpened()

	return endpoint, nil
}

// probeCandidates runs one pass over the candidate endpoints. Caller holds
// connectMu and has won the opening CAS.
func (c *Connection) probeCandidates() (string, error) {
	if err := c.stateMgr.To(ardlink.ConnectingState); err != nil {
		return "", err
	}

	candidates, err := c.cfg.enumerator.Candidates()
	if err == nil && len(candidates) == 0 {
		err = ardlink.ErrNoEndpoints
	}
	if err != nil {
		_ = c.stateMgr.To(ardlink.DisconnectedState)
		return "", err
	}

	c.orderByRecency(candidates)

	lastErr := ardlink.ErrNoEndpoints
	for _, endpoint := range candidates {
		if c.shutdown.Load() {
			return "", ardlink.ErrConnClosed
		}

		transport, err := c.cfg.dialer.Dial(endpoint)
		if err != nil {
			c.logger.Debug("dial failed", "endpoint", endpoint, "error", err)
			lastErr = err
			continue
		}

		_ = c.stateMgr.To(ardlink.AuthenticatingState)

		session := NewSession(transport, c.cfg.identity, c.cfg.handshakeTimeout, c.logger)
		if err := session.Authenticate(); err != nil {
			_ = transport.Close()
			c.metrics.incHandshakeFail()
			c.logger.Debug("handshake failed", "endpoint", endpoint, "error", err)
			lastErr = err
			_ = c.stateMgr.To(ardlink.ConnectingState)
			continue
		}

		c.setTransport(transport, endpoint)
		c.lastSuccess.Store(endpoint, time.Now())
		c.disconnectNotified.Store(false)

		if err := c.startSessionTasks(); err != nil {
			c.clearTransport()
			c.taskMgr.Stop()
			c.taskMgr.Wait()
			_ = c.stateMgr.To(ardlink.DisconnectedState)
			return "", err
		}

		_ = c.stateMgr.To(ardlink.ConnectedState)

		if c.wasDown.Swap(false) {
			c.metrics.incReconnects()
			c.notifyReconnect(endpoint)
		}

		c.logger.Info("connected", "endpoint", endpoint, "identity", c.cfg.identity)
		return endpoint, nil
	}

	// An identity mismatch is deterministic; retrying the same device would
	// fail forever, so the reconnect loop stands down until the next
	// explicit Connect.
	if errors.Is(lastErr, ardlink.ErrIdentityMismatch) {
		c.haltReconnect.Store(true)
	}

	_ = c.stateMgr.To(ardlink.DisconnectedState)
	return "", lastErr
}

// connStateHandler reacts to lifecycle transitions. It runs under the state
// manager's lock, so anything blocking is pushed to the teardown goroutine.
func (c *Connection) connStateHandler(prev, cur ardlink.ConnState) {
	c.logger.Debug("connection state change", "prev", prev, "cur", cur)

	switch cur {
	case ardlink.DisconnectedState:
		c.failPending(ardlink.ErrConnClosed)
		go c.teardown(prev == ardlink.ConnectedState)

	case ardlink.ClosedState:
		c.failPending(ardlink.ErrConnClosed)
		c.broadcast.close()

	case ardlink.ConnectedState:
		c.metrics.resetRetryGauge()
	}
}

// teardown releases the transport of a finished session, waits for its
// goroutines, fires the disconnect callback on real losses, and hands off
// to the reconnect loop.
func (c *Connection) teardown(wasConnected bool) {
	c.connectMu.Lock()

	endpoint := c.clearTransport()

	if wasConnected {
		// session goroutines only run once Connected
		c.opState.ToClosing()
		c.taskMgr.Stop()
		c.taskMgr.Wait()
		c.opState.ToClosed()

		c.metrics.incDisconnects()
		c.wasDown.Store(true)
	}

	notify := wasConnected && c.disconnectNotified.CompareAndSwap(false, true)

	c.connectMu.Unlock()

	// callbacks run outside the lock: they may call Connect themselves
	if notify {
		c.logger.Warn("connection lost", "endpoint", endpoint)
		c.notifyDisconnect(endpoint)
	}

	c.startReconnectLoop()
}

func (c *Connection) startReconnectLoop() {
	if c.shutdown.Load() || !c.autoReconnect.Load() || c.haltReconnect.Load() {
		return
	}
	if !c.reconnectRunning.CompareAndSwap(false, true) {
		return
	}

	go c.reconnectLoop(c.reconnectGen.Load())
}

// reconnectLoop retries tryConnect with exponential backoff until it
// succeeds, the connection closes, or the failure becomes deterministic.
func (c *Connection) reconnectLoop(gen uint64) {
	defer c.reconnectRunning.Store(false)

	delay := c.cfg.initialRetryDelay
	for {
		if err := c.stateMgr.To(ardlink.ReconnectingState); err != nil {
			return
		}
		c.metrics.incRetryGauge()

		timer := pool.GetTimer(delay)
		select {
		case <-c.loopCtx.Done():
			pool.PutTimer(timer)
			return
		case <-timer.C:
		}
		pool.PutTimer(timer)

		if c.shutdown.Load() || c.reconnectGen.Load() != gen || !c.autoReconnect.Load() {
			return
		}

		endpoint, err := c.tryConnect()
		if err == nil {
			c.logger.Info("reconnected", "endpoint", endpoint)
			return
		}
		if errors.Is(err, ardlink.ErrIdentityMismatch) {
			c.logger.Error("device identity mismatch, reconnect halted", "error", err)
			return
		}

		c.logger.Debug("reconnect attempt failed", "error", err, "delay", delay)

		delay *= 2
		if delay > c.cfg.maxRetryDelay {
			delay = c.cfg.maxRetryDelay
		}
	}
}

// startSessionTasks launches the per-session goroutines: the single reader,
// one consumer per registered data handler, and the optional link check.
func (c *Connection) startSessionTasks() error {
	if err := c.taskMgr.Start("reader", c.readerTask); err != nil {
		return err
	}

	c.dataMu.RLock()
	handlers := append([]DataHandler(nil), c.dataHandlers...)
	chans := append([]chan string(nil), c.dataChans...)
	c.dataMu.RUnlock()

	for i := range handlers {
		handler := handlers[i]
		name := fmt.Sprintf("data-handler-%d", i)
		err := c.taskMgr.StartConsumer(name, func(line string) bool {
			handler(line)
			return true
		}, chans[i])
		if err != nil {
			return err
		}
	}

	if c.cfg.linkCheckInterval > 0 {
		if _, err := c.taskMgr.StartInterval("link-check", c.linkCheckTask, c.cfg.linkCheckInterval, false); err != nil {
			return err
		}
	}

	return nil
}

// readerTask is the single transport reader. Every received line goes to
// exactly one place: the pending command slot if it wins the slot's race,
// otherwise the broadcast queue.
func (c *Connection) readerTask() bool {
	transport := c.getTransport()
	if transport == nil {
		return false
	}

	line, err := transport.ReadLine(c.cfg.pollTimeout)
	if err != nil {
		switch {
		case errors.Is(err, ardlink.ErrLineTimeout):
			return true
		case errors.Is(err, ardlink.ErrLineTooLong):
			c.logger.Warn("dropped overlong line", "endpoint", transport.Endpoint())
			return true
		default:
			c.handleTransportLoss(err)
			return false
		}
	}

	// blank lines are keepalive noise
	if line == "" {
		return true
	}

	if cmd := c.pending.Load(); cmd != nil && cmd.resolve(line) {
		c.metrics.incCommandReplied()
		return true
	}

	c.metrics.incBroadcastRecv()
	c.broadcast.push(line)
	c.dispatchData(line)

	return true
}

// linkCheckTask writes an empty keepalive line to surface transport death
// between commands. Devices discard blank lines.
func (c *Connection) linkCheckTask() bool {
	transport := c.getTransport()
	if transport == nil || !c.stateMgr.IsConnected() {
		return false
	}

	if err := transport.WriteLine(""); err != nil {
		c.handleTransportLoss(err)
		return false
	}

	return true
}

// handleTransportLoss fails the in-flight command within the same scheduling
// step as the loss and requests the Disconnected transition.
func (c *Connection) handleTransportLoss(err error) {
	c.logger.Debug("transport failed", "error", err)
	c.failPending(ardlink.ErrConnClosed)
	c.stateMgr.ToAsync(ardlink.DisconnectedState)
}

func (c *Connection) dispatchData(line string) {
	c.dataMu.RLock()
	chans := append([]chan string(nil), c.dataChans...)
	c.dataMu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- line:
		case <-c.loopCtx.Done():
			return
		}
	}
}

func (c *Connection) failPending(err error) {
	if cmd := c.pending.Load(); cmd != nil {
		cmd.fail(err)
	}
}

// orderByRecency sorts candidates most-recently-successful first, keeping
// the enumerator's order among endpoints that never succeeded.
func (c *Connection) orderByRecency(candidates []string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, _ := c.lastSuccess.Load(candidates[i])
		tj, _ := c.lastSuccess.Load(candidates[j])
		return ti.After(tj)
	})
}

func (c *Connection) getTransport() ardlink.Transport {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	return c.transport
}

func (c *Connection) setTransport(transport ardlink.Transport, endpoint string) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()
	c.transport = transport
	c.lastEndpoint = endpoint
}

// clearTransport closes and releases the current transport, returning the
// endpoint it was connected to.
func (c *Connection) clearTransport() string {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	return c.lastEndpoint
}

func (c *Connection) notifyDisconnect(endpoint string) {
	c.cbMu.RLock()
	cb := c.disconnectCb
	c.cbMu.RUnlock()

	if cb != nil {
		cb(endpoint)
	}
}

func (c *Connection) notifyReconnect(endpoint string) {
	c.cbMu.RLock()
	cb := c.reconnectCb
	c.cbMu.RUnlock()

	if cb != nil {
		cb(endpoint)
	}
}
