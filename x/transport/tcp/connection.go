// Package tcp carries companion frames over a localhost socket.
package tcp

import (
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
)

// TimeoutConfig contains timeout settings for connection operations
type TimeoutConfig struct {
	Accept time.Duration // Timeout for the companion to connect after launch (default: 30s)
	Read   time.Duration // Timeout for read operations, also acts as idle timeout (default: none)
	Write  time.Duration // Timeout for write operations (default: 20s)
}

// DefaultTimeoutConfig returns the timeout defaults
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Accept: 30 * time.Second,
		Write:  20 * time.Second,
	}
}

// NewConnection creates a new connection wrapper
func NewConnection(netConn net.Conn, id string, framer *codec.Framer, log zerolog.Logger) *transport.Stream {
	return NewConnectionWithTimeouts(netConn, id, framer, log, DefaultTimeoutConfig())
}

// NewConnectionWithTimeouts creates a new connection wrapper with custom timeout configuration
func NewConnectionWithTimeouts(
	netConn net.Conn, id string, framer *codec.Framer, log zerolog.Logger, timeouts TimeoutConfig,
	opts ...transport.StreamOption,
) *transport.Stream {
	hooks := transport.Hooks{
		BeforeRead: func() error {
			if timeouts.Read <= 0 {
				return nil
			}
			return netConn.SetReadDeadline(time.Now().Add(timeouts.Read))
		},
		BeforeWrite: func() error {
			if timeouts.Write <= 0 {
				return nil
			}
			return netConn.SetWriteDeadline(time.Now().Add(timeouts.Write))
		},
	}

	opts = append([]transport.StreamOption{
		transport.WithHooks(hooks),
		transport.WithRemoteAddr(netConn.RemoteAddr().String()),
	}, opts...)

	return transport.NewStream(
		id,
		netConn,
		netConn,
		framer,
		log.With().Str("component", "tcp").Logger(),
		[]io.Closer{netConn},
		opts...,
	)
}
