package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/universe-player/bridge/x/bridge"
	"github.com/universe-player/bridge/x/bridge/bridgetest"
	"github.com/universe-player/bridge/x/command"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Result, error) {
	args := m.Called(ctx, cmd, timeout)
	return args.Get(0).(command.Result), args.Error(1)
}

func startClient(t *testing.T, echo *bridgetest.EchoCompanion) (*Client, *bridge.Bridge) {
	t.Helper()

	b, err := bridge.New(context.Background(), bridgetest.Launcher(echo), bridge.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	go func() { _ = b.Run(context.Background()) }()
	<-b.Ready()
	t.Cleanup(func() { _ = b.Stop() })

	c := NewClient(b, time.Second, zerolog.Nop())
	c.Watch(b.Router())
	return c, b
}

func TestClient_PlayerFlow(t *testing.T) {
	t.Parallel()
	echo := bridgetest.NewEchoCompanion()
	c, _ := startClient(t, echo)
	ctx := context.Background()

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, command.StatusEmpty, status)

	require.Error(t, c.Play(ctx), "nothing loaded")

	require.NoError(t, c.LoadSong(ctx, "https://example.com/a"))
	status, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, command.StatusPaused, status)
	assert.Equal(t, "https://example.com/a", echo.Playback().Song)

	require.NoError(t, c.Play(ctx))
	paused, err := c.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, c.Seek(ctx, 30))
	require.NoError(t, c.SeekBy(ctx, 10))
	pos, err := c.Time(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, pos)

	length, err := c.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridgetest.DefaultSongLength, length)

	require.NoError(t, c.Pause(ctx))
	paused, err = c.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	meta, err := c.SongData(ctx, "https://example.com/b")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b", meta.URL)

	require.NoError(t, c.Quit(ctx))
	assert.True(t, echo.QuitReceived())

	err = c.ErrorProbe(ctx, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "background")

	assert.Error(t, c.LoadSong(ctx, ""))
}

func TestClient_PlaybackUpdates(t *testing.T) {
	t.Parallel()
	echo := bridgetest.NewEchoCompanion()
	c, _ := startClient(t, echo)

	_, ok := c.Last()
	assert.False(t, ok)

	got := make(chan command.PlaybackInfo, 1)
	unsubscribe := c.Subscribe(func(info command.PlaybackInfo) { got <- info })

	require.NoError(t, echo.PushUpdate(command.UpdatePlayback, command.PlaybackInfo{
		Status: command.StatusFinished,
		Time:   180,
		Length: 180,
		Song:   "https://example.com/a",
	}))

	select {
	case info := <-got:
		assert.Equal(t, command.StatusFinished, info.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("playback update not delivered")
	}

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", last.Song)

	unsubscribe()
	require.NoError(t, c.HandleUpdate(context.Background(), command.Update{Type: command.UpdatePlayback, Data: []byte(`{"status":"PAUSED"}`)}))
	assert.Empty(t, got)
	last, _ = c.Last()
	assert.Equal(t, command.StatusPaused, last.Status)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	caller := &mockCaller{}
	caller.On("Call", mock.Anything, command.QueryStatus{}, 250*time.Millisecond).
		Return(command.Success(command.MustValue("SPINNING")), nil)
	caller.On("Call", mock.Anything, command.QueryTime{}, 250*time.Millisecond).
		Return(command.Result{}, errors.New("bridge is not running"))
	caller.On("Call", mock.Anything, command.QueryPaused{}, 250*time.Millisecond).
		Return(command.Success(command.MustValue("yes")), nil)

	c := NewClient(caller, 250*time.Millisecond, zerolog.Nop())

	_, err := c.Status(context.Background())
	assert.ErrorContains(t, err, "unknown playback status")

	_, err = c.Time(context.Background())
	assert.ErrorContains(t, err, "currentTime: bridge is not running")

	_, err = c.Paused(context.Background())
	assert.Error(t, err)

	caller.AssertExpectations(t)

	assert.Error(t, c.HandleUpdate(context.Background(), command.Update{Type: command.UpdateLog}))
}
