package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Listener accepts the companion's connection on a local address.
type Listener struct {
	ln   net.Listener
	log  zerolog.Logger
	once sync.Once
}

// Listen opens a listener on addr, e.g. "127.0.0.1:3000" or "127.0.0.1:0".
func Listen(addr string, log zerolog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		ln:  ln,
		log: log.With().Str("component", "tcp-listener").Str("addr", ln.Addr().String()).Logger(),
	}
	l.log.Debug().Msg("Listening for companion")
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for one connection or for ctx to end. The listener is closed
// when ctx ends first.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn: conn, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to accept companion: %w", r.err)
		}
		l.log.Info().Str("remote_addr", r.conn.RemoteAddr().String()).Msg("Companion connected")
		return r.conn, nil
	case <-ctx.Done():
		_ = l.Close()
		if r := <-ch; r.conn != nil {
			_ = r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

// Close stops listening.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		err = l.ln.Close()
	})
	return err
}
