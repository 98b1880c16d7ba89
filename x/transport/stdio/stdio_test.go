package stdio

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
)

func TestOpen_EchoThroughPipes(t *testing.T) {
	t.Parallel()

	childOut, hostIn := io.Pipe() // companion stdout
	hostOut, childIn := io.Pipe() // companion stdin

	framer := codec.NewFramer(1024, binary.LittleEndian)
	ch := Open(ProcessStreams{Stdout: childOut, Stdin: childIn, PID: 42}, framer, zerolog.Nop())
	defer ch.Close()

	// Echo one frame back, then exit.
	go func() {
		body, err := framer.ReadFrame(hostOut)
		if err == nil {
			_ = framer.WriteFrame(hostIn, body)
		}
		_ = hostIn.Close()
	}()

	require.NoError(t, ch.WriteMessage([]byte("hello")))

	body, err := ch.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = ch.ReadMessage()
	require.ErrorIs(t, err, transport.ErrStreamClosed)
	assert.Equal(t, "stdio-42", ch.Info().ID)
}
