package host

import (
	"errors"
	"time"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/ardlink/go-ardlink/logger"
)

// Session drives the host side of the authentication handshake on an
// already-open transport. It issues the challenge, verifies the claimed
// identity byte-for-byte, and completes the confirmation exchange.
//
// Session does not own the transport; the caller closes it.
type Session struct {
	transport ardlink.Transport
	identity  string
	timeout   time.Duration
	logger    logger.Logger

	authenticated bool
}

// NewSession creates a host session expecting the given identity. The
// timeout bounds the entire handshake.
func NewSession(transport ardlink.Transport, identity string, timeout time.Duration, l logger.Logger) *Session {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Session{
		transport: transport,
		identity:  identity,
		timeout:   timeout,
		logger:    l,
	}
}

// Authenticate runs the handshake:
//
//	write challenge -> read claimed identity -> verify ->
//	write success marker -> read confirmation.
//
// A wrong identity returns ErrIdentityMismatch. A device that never answers,
// or answers too slowly, returns ErrHandshakeTimeout. The transport carries
// no authority until Authenticate returns nil.
func (s *Session) Authenticate() error {
	deadline := time.Now().Add(s.timeout)

	if err := s.transport.WriteLine(ardlink.ChallengeLine); err != nil {
		return ardlink.ErrTransportClosed
	}

	claimed, err := s.readLine(deadline)
	if err != nil {
		return err
	}
	if claimed != s.identity {
		s.logger.Warn("identity mismatch",
			"endpoint", s.transport.Endpoint(),
			"expected", s.identity,
			"claimed", claimed,
		)
		return ardlink.ErrIdentityMismatch
	}

	if err := s.transport.WriteLine(ardlink.AuthSuccessLine); err != nil {
		return ardlink.ErrTransportClosed
	}

	// The device may still be flushing pre-handshake output; skip stray
	// lines until the confirmation arrives or the deadline expires.
	for {
		line, err := s.readLine(deadline)
		if err != nil {
			return err
		}
		if line == ardlink.AuthConfirmLine {
			break
		}
		s.logger.Debug("skipping stray line during handshake", "line", line)
	}

	s.authenticated = true
	s.logger.Debug("handshake complete",
		"endpoint", s.transport.Endpoint(),
		"identity", s.identity,
	)
	return nil
}

// IsAuthenticated reports whether Authenticate completed successfully.
func (s *Session) IsAuthenticated() bool { return s.authenticated }

// Transport returns the underlying transport.
func (s *Session) Transport() ardlink.Transport { return s.transport }

// readLine reads the next non-empty line before the deadline. It maps read
// timeouts to ErrHandshakeTimeout.
func (s *Session) readLine(deadline time.Time) (string, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ardlink.ErrHandshakeTimeout
		}

		line, err := s.transport.ReadLine(remaining)
		switch {
		case err == nil:
		case errors.Is(err, ardlink.ErrLineTimeout):
			return "", ardlink.ErrHandshakeTimeout
		case errors.Is(err, ardlink.ErrLineTooLong):
			continue
		default:
			return "", ardlink.ErrTransportClosed
		}

		if line != "" {
			return line, nil
		}
	}
}
