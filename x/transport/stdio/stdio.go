// Package stdio carries companion frames over a child process's standard
// input and output.
package stdio

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
)

// ProcessStreams are the host ends of a companion's standard streams.
type ProcessStreams struct {
	// Stdout is read for frames coming from the companion.
	Stdout io.ReadCloser
	// Stdin receives frames going to the companion.
	Stdin io.WriteCloser
	// PID identifies the process in logs; zero when unknown.
	PID int
}

// Open wraps the streams in a transport channel.
func Open(streams ProcessStreams, framer *codec.Framer, log zerolog.Logger, opts ...transport.StreamOption) *transport.Stream {
	id := "stdio"
	if streams.PID > 0 {
		id = fmt.Sprintf("stdio-%d", streams.PID)
	}
	opts = append([]transport.StreamOption{transport.WithRemoteAddr(id)}, opts...)

	return transport.NewStream(
		id,
		streams.Stdout,
		streams.Stdin,
		framer,
		log.With().Str("component", "stdio").Logger(),
		[]io.Closer{streams.Stdin, streams.Stdout},
		opts...,
	)
}
