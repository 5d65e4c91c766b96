package ardlink

import "sync/atomic"

// OpState tracks the open/close lifecycle of a managed resource, separate
// from the protocol-level connection state.
type OpState uint32

const (
	OpClosed OpState = iota
	OpClosing
	OpOpening
	OpOpened
)

// AtomicOpState is a lock-free OpState holder with CAS-guarded transitions.
type AtomicOpState struct {
	state atomic.Uint32
}

func (st *AtomicOpState) String() string {
	switch st.Get() {
	case OpClosed:
		return "closed"
	case OpClosing:
		return "closing"
	case OpOpening:
		return "opening"
	case OpOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// Get returns the current state.
func (st *AtomicOpState) Get() OpState {
	return OpState(st.state.Load())
}

// Set unconditionally sets the current state.
func (st *AtomicOpState) Set(state OpState) {
	st.state.Store(uint32(state))
}

func (st *AtomicOpState) IsClosed() bool  { return st.Get() == OpClosed }
func (st *AtomicOpState) IsClosing() bool { return st.Get() == OpClosing }
func (st *AtomicOpState) IsOpening() bool { return st.Get() == OpOpening }
func (st *AtomicOpState) IsOpened() bool  { return st.Get() == OpOpened }

// ToOpening transitions Closed → Opening.
func (st *AtomicOpState) ToOpening() bool {
	return st.state.CompareAndSwap(uint32(OpClosed), uint32(OpOpening))
}

// ToOpened transitions Opening → Opened. Returns true if already opened.
func (st *AtomicOpState) ToOpened() bool {
	if st.IsOpened() {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpOpening), uint32(OpOpened))
}

// ToClosing transitions Opened or Opening → Closing.
func (st *AtomicOpState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(OpOpened), uint32(OpClosing)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpOpening), uint32(OpClosing))
}

// ToClosed transitions Closing → Closed. Returns true if already closed.
func (st *AtomicOpState) ToClosed() bool {
	if st.IsClosed() {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpClosing), uint32(OpClosed))
}
