package ardlink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardlink/go-ardlink/logger"
)

// ConnState represents the lifecycle stage of a host connection.
type ConnState uint32

// Host connection states.
const (
	// IdleState indicates that no connect attempt has been made yet.
	IdleState ConnState = iota
	// ConnectingState indicates that candidate endpoints are being probed.
	ConnectingState
	// AuthenticatingState indicates that a transport is open and the
	// handshake is running.
	AuthenticatingState
	// ConnectedState indicates an authenticated session ready for command
	// and broadcast traffic.
	ConnectedState
	// DisconnectedState indicates that the transport was lost or released.
	DisconnectedState
	// ReconnectingState indicates that the manager is waiting out a backoff
	// interval before re-probing endpoints.
	ReconnectingState
	// ClosedState is terminal: the connection was explicitly closed and no
	// further reconnect attempts will be made.
	ClosedState
)

// String returns the string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case IdleState:
		return "idle"
	case ConnectingState:
		return "connecting"
	case AuthenticatingState:
		return "authenticating"
	case ConnectedState:
		return "connected"
	case DisconnectedState:
		return "disconnected"
	case ReconnectingState:
		return "reconnecting"
	case ClosedState:
		return "closed"
	default:
		return "unknown"
	}
}

// IsConnected returns true if the state is ConnectedState.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsClosed returns true if the state is ClosedState.
func (cs ConnState) IsClosed() bool { return cs == ClosedState }

// validTransitions defines the allowed state graph. ClosedState is reachable
// from every state and terminal; it is handled separately in canTransition.
var validTransitions = map[ConnState][]ConnState{
	IdleState:           {ConnectingState},
	ConnectingState:     {AuthenticatingState, DisconnectedState},
	AuthenticatingState: {ConnectedState, ConnectingState, DisconnectedState},
	ConnectedState:      {DisconnectedState},
	DisconnectedState:   {ReconnectingState, ConnectingState},
	ReconnectingState:   {ConnectingState, DisconnectedState},
	ClosedState:         {},
}

func canTransition(from, to ConnState) bool {
	if to == ClosedState {
		return from != ClosedState
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// StateChangeHandler is invoked on every connection state change.
//
// Handlers run while the state manager's lock is held and must not block or
// re-enter the state manager synchronously; use the async transition methods
// from inside a handler.
type StateChangeHandler func(prevState, newState ConnState)

// ConnStateMgr manages the lifecycle state of a host connection.
//
// It provides validated, thread-safe state transitions, change notification
// handlers, a WaitState primitive, and an asynchronous transition channel so
// that I/O goroutines can request transitions without blocking.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler

	asyncCh   chan ConnState
	asyncCtx  context.Context
	asyncStop context.CancelFunc
	asyncWG   sync.WaitGroup
}

// NewConnStateMgr creates a ConnStateMgr in IdleState.
//
// Optional handlers are invoked on each state change in registration order.
// Call Start before using the asynchronous transition methods.
func NewConnStateMgr(l logger.Logger, handlers ...StateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &ConnStateMgr{
		logger:   l,
		handlers: append([]StateChangeHandler(nil), handlers...),
		asyncCh:  make(chan ConnState, 16),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(IdleState))

	return mgr
}

// Start launches the background goroutine serving asynchronous transitions.
// It is a no-op if already started.
func (mgr *ConnStateMgr) Start(ctx context.Context) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.asyncStop != nil {
		return
	}

	mgr.asyncCtx, mgr.asyncStop = context.WithCancel(ctx)

	mgr.asyncWG.Add(1)
	go mgr.asyncTransitionTask()
}

// Stop terminates the asynchronous transition goroutine and waits for it.
func (mgr *ConnStateMgr) Stop() {
	mgr.mu.Lock()
	stop := mgr.asyncStop
	mgr.asyncStop = nil
	mgr.mu.Unlock()

	if stop != nil {
		stop()
		mgr.asyncWG.Wait()
	}
}

// State returns the current connection state.
func (mgr *ConnStateMgr) State() ConnState {
	return ConnState(mgr.state.Load())
}

// AddHandler registers additional state-change handlers.
func (mgr *ConnStateMgr) AddHandler(handlers ...StateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// To transitions to the desired state, invoking handlers on success.
//
// A transition to the current state is a no-op. Disallowed transitions
// return ErrInvalidTransition.
func (mgr *ConnStateMgr) To(desired ConnState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	cur := mgr.State()
	if cur == desired {
		return nil
	}

	if !canTransition(cur, desired) {
		mgr.logger.Debug("rejected state transition", "from", cur, "to", desired)
		return ErrInvalidTransition
	}

	mgr.state.Store(uint32(desired))
	mgr.cond.Broadcast()

	for _, handler := range mgr.handlers {
		if handler != nil {
			handler(cur, desired)
		}
	}

	return nil
}

// ToAsync requests a transition from the background goroutine. It never
// blocks the caller; the transition outcome is logged rather than returned.
func (mgr *ConnStateMgr) ToAsync(desired ConnState) {
	if mgr.State() == desired {
		return
	}

	select {
	case mgr.asyncCh <- desired:
	default:
		mgr.logger.Warn("async transition queue full, dropping request", "desired", desired)
	}
}

// WaitState blocks until the connection reaches the given state or ctx is
// done. It returns nil when the desired state is reached.
func (mgr *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// IsConnected returns true when the current state is ConnectedState.
func (mgr *ConnStateMgr) IsConnected() bool {
	return mgr.State().IsConnected()
}

// IsClosed returns true when the current state is ClosedState.
func (mgr *ConnStateMgr) IsClosed() bool {
	return mgr.State().IsClosed()
}

// asyncTransitionTask applies queued transitions in the background.
func (mgr *ConnStateMgr) asyncTransitionTask() {
	defer mgr.asyncWG.Done()

	for {
		select {
		case <-mgr.asyncCtx.Done():
			return

		case desired := <-mgr.asyncCh:
			if err := mgr.To(desired); err != nil {
				mgr.logger.Debug("async state transition failed",
					"curState", mgr.State(), "desiredState", desired, "error", err)
			}
		}
	}
}
