package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport/tcp"
)

// AddrEnv is the environment variable carrying the host address to a
// companion started by SocketLauncher.
const AddrEnv = "COMPANION_HOST_ADDR"

// addrPlaceholder in Args is replaced with the bound host address.
const addrPlaceholder = "{addr}"

// SocketLauncher listens on a local address, starts the companion and waits
// for it to connect back. The process's own stdout and stderr are logged.
type SocketLauncher struct {
	Process  ProcessLauncher
	Addr     string
	Timeouts tcp.TimeoutConfig
}

// Launch starts the process and accepts its connection.
func (l *SocketLauncher) Launch(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (Companion, error) {
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := tcp.Listen(addr, log)
	if err != nil {
		return nil, NewLaunchError(LaunchErrorConfig, "failed to listen for companion").WithCause(err)
	}
	defer ln.Close()

	bound := ln.Addr().String()
	proc := l.Process
	proc.Env = append(append([]string(nil), l.Process.Env...), AddrEnv+"="+bound)
	proc.Args = make([]string, len(l.Process.Args))
	for i, a := range l.Process.Args {
		proc.Args[i] = strings.ReplaceAll(a, addrPlaceholder, bound)
	}

	p, err := proc.start(ctx, log, false)
	if err != nil {
		return nil, err
	}

	timeout := l.Timeouts.Accept
	if timeout <= 0 {
		timeout = tcp.DefaultTimeoutConfig().Accept
	}
	acceptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Stop waiting as soon as the process dies.
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-acceptCtx.Done():
		}
	}()

	conn, err := ln.Accept(acceptCtx)
	if err != nil {
		select {
		case <-p.done:
			return nil, p.earlyExit()
		default:
		}
		_ = p.Terminate(time.Second)
		if ctx.Err() != nil {
			return nil, NewLaunchError(LaunchErrorCanceled, "launch canceled").WithCause(ctx.Err())
		}
		return nil, NewLaunchError(LaunchErrorConnect, "companion did not connect").
			WithCause(err).
			WithContext("addr", bound).
			WithContext("timeout", timeout.String())
	}

	id := fmt.Sprintf("tcp-%d", p.PID())
	p.ch = tcp.NewConnectionWithTimeouts(conn, id, framer, log, l.Timeouts)
	return p, nil
}
