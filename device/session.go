package device

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/ardlink/go-ardlink/logger"
)

// DefaultPollTimeout bounds a single Update step. The device loop stays
// responsive because Update never blocks longer than this on an idle link.
const DefaultPollTimeout = 20 * time.Millisecond

// SessionState represents the device session's authentication state.
type SessionState uint32

const (
	// Unauthenticated is the initial state; only protocol control lines
	// are acted upon and outgoing data is suppressed.
	Unauthenticated SessionState = iota
	// Authenticated is entered on receipt of AUTH_SUCCESS and persists
	// until the session is reset.
	Authenticated
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// CommandHandler processes a command line received from the host after
// authentication. It may reply, synchronously or later, via Session.SendData.
type CommandHandler interface {
	HandleCommand(line string)
}

// CommandHandlerFunc adapts a plain function to the CommandHandler interface.
type CommandHandlerFunc func(line string)

func (f CommandHandlerFunc) HandleCommand(line string) { f(line) }

// Port is the device's view of the transport: a line Transport that must be
// initialized with a baud rate before use.
type Port interface {
	// Begin initializes the underlying link at the given baud rate.
	Begin(baud int) error

	ardlink.Transport
}

// Session is the device-side protocol endpoint.
//
// It recognizes the three protocol control lines and otherwise forwards
// input to the registered command handler. The session is single-threaded
// cooperative: call Update once per loop iteration; each call processes at
// most one line.
type Session struct {
	identity    string
	port        Port
	handler     CommandHandler
	signaler    Signaler
	logger      logger.Logger
	pollTimeout time.Duration
	state       atomic.Uint32
}

// SessionOption is a functional option for configuring a device Session.
type SessionOption interface {
	apply(*Session) error
}

type sessionOptFunc func(*Session) error

func (f sessionOptFunc) apply(s *Session) error { return f(s) }

// WithCommandHandler injects the handler invoked for each command line
// received while authenticated. Without a handler, command lines are
// silently discarded.
func WithCommandHandler(handler CommandHandler) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		s.handler = handler
		return nil
	})
}

// WithSignaler injects the acknowledgment signaler fired on authentication.
// Defaults to NopSignaler.
func WithSignaler(signaler Signaler) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		if signaler == nil {
			return errors.New("device: signaler must not be nil")
		}
		s.signaler = signaler

		return nil
	})
}

// WithPollTimeout sets the per-Update read poll timeout.
func WithPollTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		if d <= 0 {
			return errors.New("device: poll timeout must be positive")
		}
		s.pollTimeout = d

		return nil
	})
}

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(s *Session) error {
		if l == nil {
			return errors.New("device: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// NewSession creates a device Session with the given identity and port.
//
// The identity must not collide with a protocol control literal; such
// identities are rejected with ErrReservedIdentity.
func NewSession(identity string, port Port, opts ...SessionOption) (*Session, error) {
	if err := ardlink.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if port == nil {
		return nil, errors.New("device: port is nil")
	}

	s := &Session{
		identity:    identity,
		port:        port,
		signaler:    NopSignaler{},
		logger:      logger.GetLogger(),
		pollTimeout: DefaultPollTimeout,
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Begin initializes the underlying port at the given baud rate.
func (s *Session) Begin(baud int) error {
	return s.port.Begin(baud)
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsAuthenticated returns true once the host has granted trust.
func (s *Session) IsAuthenticated() bool {
	return s.State() == Authenticated
}

// Update pumps one protocol step: it reads at most one line and reacts to
// it. An idle link (poll timeout) is not an error. Call it once per loop
// iteration.
func (s *Session) Update() error {
	line, err := s.port.ReadLine(s.pollTimeout)
	if err != nil {
		if errors.Is(err, ardlink.ErrLineTimeout) {
			return nil
		}
		if errors.Is(err, ardlink.ErrLineTooLong) {
			s.logger.Warn("discarded overlong line")
			return nil
		}

		return fmt.Errorf("device: update: %w", err)
	}

	switch line {
	case ardlink.ChallengeLine:
		// Reply with the identity only; state does not change here because
		// authentication is host-confirmed, not self-asserted.
		return s.port.WriteLine(s.identity)

	case ardlink.AuthSuccessLine:
		// Idempotent: re-receipt while authenticated re-confirms and
		// re-signals.
		s.state.Store(uint32(Authenticated))
		s.signaler.Signal()
		s.logger.Info("authenticated by host", "endpoint", s.port.Endpoint())

		return s.port.WriteLine(ardlink.AuthConfirmLine)

	case "":
		// Keepalive probes and stray blank lines carry no meaning.
		return nil

	default:
		if s.IsAuthenticated() && s.handler != nil {
			s.handler.HandleCommand(line)
		}
		// Unauthenticated non-protocol lines are silently discarded.

		return nil
	}
}

// SendData writes a data line to the host.
//
// While unauthenticated the write is silently suppressed: no data leaves the
// device before trust is established, and no error is raised for the
// dropped send.
func (s *Session) SendData(line string) error {
	if !s.IsAuthenticated() {
		s.logger.Debug("suppressed send while unauthenticated")
		return nil
	}

	return s.port.WriteLine(line)
}

// Reset returns the session to the Unauthenticated state, as after a device
// reset. The port stays open.
func (s *Session) Reset() {
	s.state.Store(uint32(Unauthenticated))
}

// Close stops the signaler and releases the port.
func (s *Session) Close() error {
	s.signaler.Stop()
	return s.port.Close()
}
