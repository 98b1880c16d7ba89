package companion

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
	"github.com/universe-player/bridge/x/transport/stdio"
)

// Attach returns a launcher for a companion that is already running and
// reachable through r (its output) and w (its input).
func Attach(r io.ReadCloser, w io.WriteCloser) Launcher {
	return LauncherFunc(func(_ context.Context, framer *codec.Framer, log zerolog.Logger) (Companion, error) {
		ch := stdio.Open(stdio.ProcessStreams{Stdout: r, Stdin: w}, framer, log)
		return newAttached(ch), nil
	})
}

// AttachChannel returns a launcher for an already open channel.
func AttachChannel(ch transport.Channel) Launcher {
	return LauncherFunc(func(context.Context, *codec.Framer, zerolog.Logger) (Companion, error) {
		return newAttached(ch), nil
	})
}

type attached struct {
	ch   transport.Channel
	done chan struct{}
	once sync.Once
}

func newAttached(ch transport.Channel) *attached {
	return &attached{ch: ch, done: make(chan struct{})}
}

func (a *attached) Channel() transport.Channel { return a.ch }
func (a *attached) Done() <-chan struct{}      { return a.done }
func (a *attached) ExitErr() error             { return nil }
func (a *attached) PID() int                   { return 0 }

// Terminate closes the channel; the companion's lifetime is not ours.
func (a *attached) Terminate(time.Duration) error {
	var err error
	a.once.Do(func() {
		err = a.ch.Close()
		close(a.done)
	})
	return err
}
