package tcp

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
)

func TestListener_AcceptAndExchange(t *testing.T) {
	t.Parallel()

	l, err := Listen("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	framer := codec.NewFramer(1024, binary.BigEndian)

	go func() {
		conn, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		body, err := framer.ReadFrame(conn)
		if err != nil {
			return
		}
		_ = framer.WriteFrame(conn, append([]byte("re:"), body...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := l.Accept(ctx)
	require.NoError(t, err)

	ch := NewConnection(conn, "companion", framer, zerolog.Nop())
	defer ch.Close()

	require.NoError(t, ch.WriteMessage([]byte("ping")))
	body, err := ch.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "re:ping", string(body))

	_, err = ch.ReadMessage()
	require.ErrorIs(t, err, transport.ErrStreamClosed)
}

func TestListener_AcceptHonoursContext(t *testing.T) {
	t.Parallel()

	l, err := Listen("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = l.Accept(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnection_ReadTimeoutClosesChannel(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()

	ch := NewConnectionWithTimeouts(local, "idle", codec.NewFramer(1024, nil), zerolog.Nop(),
		TimeoutConfig{Read: 30 * time.Millisecond})

	_, err := ch.ReadMessage()
	require.ErrorIs(t, err, transport.ErrStreamClosed)
	assert.True(t, ch.Info().Closed)
}
