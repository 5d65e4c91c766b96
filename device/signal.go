package device

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardlink/go-ardlink/internal/pool"
)

// Defaults for the authentication acknowledgment pulse, matching the
// canonical three-blink confirmation.
const (
	DefaultPulseCount    = 3
	DefaultPulseInterval = 100 * time.Millisecond
)

// Indicator is a binary human-observable output, e.g. an on-board LED.
type Indicator interface {
	// Set turns the indicator on or off.
	Set(on bool)
}

// IndicatorFunc adapts a plain function to the Indicator interface.
type IndicatorFunc func(on bool)

func (f IndicatorFunc) Set(on bool) { f(on) }

// Signaler emits the one-time acknowledgment signal when the session
// becomes authenticated. Implementations must not block the caller; the
// signal runs concurrently with the session's read loop.
type Signaler interface {
	// Signal triggers the acknowledgment sequence.
	Signal()
	// Stop cancels any in-progress sequence and releases resources.
	Stop()
}

// NopSignaler is a Signaler that does nothing, for headless deployments.
type NopSignaler struct{}

func (NopSignaler) Signal() {}
func (NopSignaler) Stop()   {}

// PulseSignaler pulses an Indicator a fixed number of times.
//
// The pulse sequence runs in its own goroutine so protocol processing is
// never stalled by signalling, and it is cancellable via Stop. Overlapping
// triggers while a sequence is in progress are coalesced.
type PulseSignaler struct {
	indicator Indicator
	count     int
	interval  time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

var _ Signaler = (*PulseSignaler)(nil)

// NewPulseSignaler creates a PulseSignaler for the given indicator.
//
// count and interval fall back to DefaultPulseCount and
// DefaultPulseInterval when non-positive.
func NewPulseSignaler(indicator Indicator, count int, interval time.Duration) *PulseSignaler {
	if count <= 0 {
		count = DefaultPulseCount
	}
	if interval <= 0 {
		interval = DefaultPulseInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PulseSignaler{
		indicator: indicator,
		count:     count,
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Signal starts the pulse sequence in the background. A trigger while a
// sequence is already running is a no-op.
func (s *PulseSignaler) Signal() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	go s.pulse()
}

// Stop cancels any in-progress sequence. The signaler cannot be reused
// afterwards.
func (s *PulseSignaler) Stop() {
	s.cancel()
}

func (s *PulseSignaler) pulse() {
	defer s.running.Store(false)
	defer s.indicator.Set(false)

	for i := 0; i < s.count; i++ {
		s.indicator.Set(true)
		if !s.sleep() {
			return
		}

		s.indicator.Set(false)
		if !s.sleep() {
			return
		}
	}
}

func (s *PulseSignaler) sleep() bool {
	timer := pool.GetTimer(s.interval)
	defer pool.PutTimer(timer)

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
