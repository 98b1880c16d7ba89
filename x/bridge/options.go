package bridge

import (
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/correlation"
)

const (
	DefaultQueueSize         = 64
	DefaultMaxDecodeFailures = 3
	DefaultTimeout           = 10 * time.Second
	DefaultTerminateGrace    = 2 * time.Second
)

// Option configures the bridge
type Option func(*Config)

// Config holds bridge configuration
type Config struct {
	Logger            zerolog.Logger
	Codec             codec.Codec
	ByteOrder         binary.ByteOrder
	QueueSize         int
	MaxDecodeFailures int
	DefaultTimeout    time.Duration
	TerminateGrace    time.Duration
	SerialRequests    bool
	IDGenerator       func() string
	Router            UpdateRouter
	Metrics           *Metrics
	TableOptions      []correlation.Option
}

func defaultConfig() *Config {
	return &Config{
		Logger:            zerolog.Nop(),
		Codec:             codec.NewJSONCodec(codec.DefaultMaxMessageSize),
		QueueSize:         DefaultQueueSize,
		MaxDecodeFailures: DefaultMaxDecodeFailures,
		DefaultTimeout:    DefaultTimeout,
		TerminateGrace:    DefaultTerminateGrace,
		IDGenerator:       correlation.NewID,
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithCodec sets the envelope codec
func WithCodec(cd codec.Codec) Option {
	return func(c *Config) {
		c.Codec = cd
	}
}

// WithByteOrder sets the byte order of the frame length prefix
func WithByteOrder(order binary.ByteOrder) Option {
	return func(c *Config) {
		c.ByteOrder = order
	}
}

// WithQueueSize sets the capacity of the outbound queue
func WithQueueSize(n int) Option {
	return func(c *Config) {
		c.QueueSize = n
	}
}

// WithMaxDecodeFailures sets how many consecutive undecodable frames are
// tolerated before the bridge stops with ErrProtocolCorruption
func WithMaxDecodeFailures(n int) Option {
	return func(c *Config) {
		c.MaxDecodeFailures = n
	}
}

// WithTimeout sets the timeout used by Call when none is given
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.DefaultTimeout = timeout
	}
}

// WithTerminateGrace sets how long the companion gets to exit on Stop
func WithTerminateGrace(grace time.Duration) Option {
	return func(c *Config) {
		c.TerminateGrace = grace
	}
}

// WithSerialRequests keeps at most one request in flight, for companions
// that cannot echo correlation ids
func WithSerialRequests() Option {
	return func(c *Config) {
		c.SerialRequests = true
	}
}

// WithIDGenerator replaces the correlation id source
func WithIDGenerator(gen func() string) Option {
	return func(c *Config) {
		c.IDGenerator = gen
	}
}

// WithRouter sets the update router
func WithRouter(r UpdateRouter) Option {
	return func(c *Config) {
		c.Router = r
	}
}

// WithMetrics sets the bridge metrics
func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTableOptions passes options to the correlation table
func WithTableOptions(opts ...correlation.Option) Option {
	return func(c *Config) {
		c.TableOptions = append(c.TableOptions, opts...)
	}
}
