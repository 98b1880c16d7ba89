// Package companion starts the companion process and hands the bridge a
// transport channel to it.
package companion

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
)

// Companion is a running companion the bridge can talk to.
type Companion interface {
	// Channel is the frame stream to the companion.
	Channel() transport.Channel
	// Done is closed once the companion has exited or been detached.
	Done() <-chan struct{}
	// ExitErr is the process exit status once Done is closed.
	ExitErr() error
	// Terminate asks the companion to exit, forcing it after grace.
	Terminate(grace time.Duration) error
	// PID is the process id, zero when the companion is not a child process.
	PID() int
}

// Launcher starts or attaches to a companion.
type Launcher interface {
	Launch(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (Companion, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (Companion, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (Companion, error) {
	return f(ctx, framer, log)
}
