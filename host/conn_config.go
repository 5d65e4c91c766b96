package host

import (
	"errors"
	"time"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/ardlink/go-ardlink/logger"
)

// Default configuration values for ConnectionConfig.
const (
	// DefaultHandshakeTimeout bounds the full authentication exchange.
	DefaultHandshakeTimeout = 2 * time.Second
	// DefaultCommandTimeout bounds a command's wait for its reply line when
	// SendCommand is invoked with a non-positive timeout.
	DefaultCommandTimeout = 1 * time.Second
	// DefaultPollTimeout is the timed-read interval of the reader task.
	DefaultPollTimeout = 50 * time.Millisecond
	// DefaultInitialRetryDelay is the first reconnect backoff delay.
	DefaultInitialRetryDelay = 100 * time.Millisecond
	// DefaultMaxRetryDelay caps the exponential reconnect backoff.
	DefaultMaxRetryDelay = 30 * time.Second
	// DefaultLinkCheckInterval is how often an empty keepalive line is
	// written to detect a dead transport between commands.
	DefaultLinkCheckInterval = 2 * time.Second
	// DefaultBroadcastQueueSize is the pre-allocated capacity of the
	// broadcast line queue. The queue grows past it without dropping.
	DefaultBroadcastQueueSize = 20
	// DefaultDataChanSize is the buffer size of each data handler channel.
	DefaultDataChanSize = 10
)

// ConnOption mutates a ConnectionConfig during construction.
type ConnOption interface {
	apply(cfg *ConnectionConfig) error
}

type connOptFunc struct {
	f func(cfg *ConnectionConfig) error
}

func (o *connOptFunc) apply(cfg *ConnectionConfig) error { return o.f(cfg) }

func newConnOptFunc(f func(cfg *ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{f: f}
}

// ConnectionConfig carries the immutable settings of a Connection.
// Construct it with NewConnectionConfig; the zero value is not usable.
type ConnectionConfig struct {
	identity string

	enumerator ardlink.Enumerator
	dialer     ardlink.Dialer

	handshakeTimeout  time.Duration
	commandTimeout    time.Duration
	pollTimeout       time.Duration
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	linkCheckInterval time.Duration

	broadcastQueueSize int
	dataChanSize       int
	maxLineLength      int

	autoReconnect bool
	logger        logger.Logger
}

// NewConnectionConfig creates a ConnectionConfig expecting a device that
// claims the given identity. The enumerator supplies candidate endpoints and
// the dialer opens them; both are required.
func NewConnectionConfig(identity string, enumerator ardlink.Enumerator, dialer ardlink.Dialer, opts ...ConnOption) (*ConnectionConfig, error) {
	if err := ardlink.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if enumerator == nil {
		return nil, errors.New("ardlink: enumerator is required")
	}
	if dialer == nil {
		return nil, errors.New("ardlink: dialer is required")
	}

	cfg := &ConnectionConfig{
		identity:           identity,
		enumerator:         enumerator,
		dialer:             dialer,
		handshakeTimeout:   DefaultHandshakeTimeout,
		commandTimeout:     DefaultCommandTimeout,
		pollTimeout:        DefaultPollTimeout,
		initialRetryDelay:  DefaultInitialRetryDelay,
		maxRetryDelay:      DefaultMaxRetryDelay,
		linkCheckInterval:  DefaultLinkCheckInterval,
		broadcastQueueSize: DefaultBroadcastQueueSize,
		dataChanSize:       DefaultDataChanSize,
		maxLineLength:      ardlink.DefaultMaxLineLength,
		autoReconnect:      true,
		logger:             logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Identity returns the identity the remote device must claim.
func (c *ConnectionConfig) Identity() string { return c.identity }

// HandshakeTimeout returns the authentication deadline.
func (c *ConnectionConfig) HandshakeTimeout() time.Duration { return c.handshakeTimeout }

// CommandTimeout returns the default per-command reply timeout.
func (c *ConnectionConfig) CommandTimeout() time.Duration { return c.commandTimeout }

// AutoReconnect reports whether the reconnect loop starts after loss.
func (c *ConnectionConfig) AutoReconnect() bool { return c.autoReconnect }

// WithHandshakeTimeout overrides the authentication deadline.
func WithHandshakeTimeout(timeout time.Duration) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if timeout <= 0 {
			return errors.New("ardlink: handshake timeout must be positive")
		}
		cfg.handshakeTimeout = timeout
		return nil
	})
}

// WithCommandTimeout overrides the default per-command reply timeout.
func WithCommandTimeout(timeout time.Duration) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if timeout <= 0 {
			return errors.New("ardlink: command timeout must be positive")
		}
		cfg.commandTimeout = timeout
		return nil
	})
}

// WithPollTimeout overrides the reader task's timed-read interval.
func WithPollTimeout(timeout time.Duration) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if timeout <= 0 {
			return errors.New("ardlink: poll timeout must be positive")
		}
		cfg.pollTimeout = timeout
		return nil
	})
}

// WithRetryDelay sets the initial and maximum reconnect backoff delays.
// The delay doubles after each failed attempt until it reaches max.
func WithRetryDelay(initial, max time.Duration) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if initial <= 0 || max < initial {
			return errors.New("ardlink: invalid retry delay range")
		}
		cfg.initialRetryDelay = initial
		cfg.maxRetryDelay = max
		return nil
	})
}

// WithLinkCheckInterval sets the keepalive write interval. A zero interval
// disables the link check task.
func WithLinkCheckInterval(interval time.Duration) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if interval < 0 {
			return errors.New("ardlink: link check interval cannot be negative")
		}
		cfg.linkCheckInterval = interval
		return nil
	})
}

// WithAutoReconnect enables or disables the reconnect loop after loss.
func WithAutoReconnect(enable bool) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		cfg.autoReconnect = enable
		return nil
	})
}

// WithBroadcastQueueSize sets the pre-allocated broadcast queue capacity.
func WithBroadcastQueueSize(size int) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if size <= 0 {
			return errors.New("ardlink: broadcast queue size must be positive")
		}
		cfg.broadcastQueueSize = size
		return nil
	})
}

// WithDataChanSize sets the buffer size of each data handler channel.
func WithDataChanSize(size int) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if size <= 0 {
			return errors.New("ardlink: data channel size must be positive")
		}
		cfg.dataChanSize = size
		return nil
	})
}

// WithMaxLineLength caps accepted incoming line length. It is consulted by
// dialers that construct transports on the connection's behalf.
func WithMaxLineLength(n int) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if n <= 0 {
			return errors.New("ardlink: max line length must be positive")
		}
		cfg.maxLineLength = n
		return nil
	})
}

// WithLogger overrides the logger used by the connection.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("ardlink: logger cannot be nil")
		}
		cfg.logger = l
		return nil
	})
}
