package bootloader

import (
	"time"

	"github.com/pion/logging"

	"github.com/moffa90/go-bk7231/protocol"
)

// Config holds the session configuration.
type Config struct {
	// Profile forces the chip profile instead of identifying the chip (optional)
	Profile *protocol.ChipProfile

	// ProgressCallback is called during flash operations to report progress (optional)
	ProgressCallback ProgressCallback

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Timeout is the read timeout of a single exchange
	Timeout time.Duration

	// LinkTimeout bounds the whole handshake
	LinkTimeout time.Duration

	// LinkCheckTimeout is the read timeout of a single link check
	LinkCheckTimeout time.Duration

	// LinkAttempts bounds the number of link checks sent during the handshake
	LinkAttempts int

	// Retries is the number of times a timed out exchange is re-issued
	Retries int

	// SegmentRetries is the number of times a segment that failed
	// verification is transferred again
	SegmentRetries int

	// BaudRate is switched to after the handshake when it differs from
	// protocol.DefaultBaudRate and the channel implements BaudRateSetter
	BaudRate int

	// ResetPulse is the RTS pulse width used to reset the chip before the
	// handshake; zero disables the reset
	ResetPulse time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		LinkTimeout:      10 * time.Second,
		LinkCheckTimeout: 5 * time.Millisecond,
		LinkAttempts:     2000,
		Retries:          3,
		SegmentRetries:   2,
		BaudRate:         protocol.DefaultBaudRate,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithChipProfile skips identification and uses the given profile.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port, bootloader.WithChipProfile(protocol.BK7231N))
func WithChipProfile(profile protocol.ChipProfile) Option {
	return func(c *Config) {
		c.Profile = &profile
	}
}

// WithProgressCallback sets a callback function to track flash operations.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLoggerFactory sets the factory used to create the session loggers.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port,
//	    bootloader.WithLoggerFactory(logging.NewDefaultLoggerFactory()),
//	)
func WithLoggerFactory(factory logging.LoggerFactory) Option {
	return func(c *Config) {
		c.LoggerFactory = factory
	}
}

// WithTimeout sets the read timeout of a single exchange.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port, bootloader.WithTimeout(5*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithLinkTimeout sets the overall handshake timeout.
func WithLinkTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.LinkTimeout = timeout
		}
	}
}

// WithLinkAttempts sets the maximum number of link checks sent during the
// handshake.
func WithLinkAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.LinkAttempts = attempts
		}
	}
}

// WithRetries sets the number of retry attempts for timed out exchanges.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port, bootloader.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithSegmentRetries sets the number of times a segment failing
// verification is transferred again.
func WithSegmentRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.SegmentRetries = retries
		}
	}
}

// WithBaudRate sets the baud rate used after the handshake.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port, bootloader.WithBaudRate(921600))
func WithBaudRate(rate int) Option {
	return func(c *Config) {
		if rate > 0 {
			c.BaudRate = rate
		}
	}
}

// WithHardwareReset enables resetting the chip through RTS before the
// handshake, holding the line for pulse.
func WithHardwareReset(pulse time.Duration) Option {
	return func(c *Config) {
		if pulse >= 0 {
			c.ResetPulse = pulse
		}
	}
}
