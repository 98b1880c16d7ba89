package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/universe-player/bridge/x/bridge/bridgetest"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
	"github.com/universe-player/bridge/x/correlation"
)

const testTimeout = 2 * time.Second

type runningBridge struct {
	*Bridge
	runErr chan error
}

func (rb *runningBridge) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rb.runErr:
		return err
	case <-time.After(testTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func startBridge(t *testing.T, launcher companion.Launcher, opts ...Option) *runningBridge {
	t.Helper()

	opts = append([]Option{WithLogger(zerolog.New(io.Discard)), WithTerminateGrace(100 * time.Millisecond)}, opts...)
	b, err := New(context.Background(), launcher, opts...)
	require.NoError(t, err)
	require.Equal(t, StateStarting, b.State())

	rb := &runningBridge{Bridge: b, runErr: make(chan error, 1)}
	go func() { rb.runErr <- b.Run(context.Background()) }()

	select {
	case <-b.Ready():
	case <-time.After(testTimeout):
		t.Fatal("bridge did not become ready")
	}
	t.Cleanup(func() { _ = b.Stop() })
	return rb
}

func startEcho(t *testing.T, echo *bridgetest.EchoCompanion, opts ...Option) *runningBridge {
	t.Helper()
	return startBridge(t, bridgetest.Launcher(echo), opts...)
}

func awaitResult(t *testing.T, f *correlation.Future) command.Result {
	t.Helper()
	res, err := f.AwaitTimeout(testTimeout)
	require.NoError(t, err, "future %s never resolved", f.ID())
	return res
}

// scriptedCompanion exposes the companion side of the pipes so tests can
// write arbitrary frames.
type scriptedCompanion struct {
	framer *codec.Framer
	codec  codec.Codec

	fromHost *io.PipeReader
	toHost   *io.PipeWriter
}

func newScriptedCompanion() (*scriptedCompanion, companion.Launcher) {
	sc := &scriptedCompanion{codec: codec.NewJSONCodec(codec.DefaultMaxMessageSize)}
	launcher := companion.LauncherFunc(func(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (companion.Companion, error) {
		hostR, toHost := io.Pipe()
		fromHost, hostW := io.Pipe()
		sc.framer, sc.fromHost, sc.toHost = framer, fromHost, toHost
		return companion.Attach(hostR, hostW).Launch(ctx, framer, log)
	})
	return sc, launcher
}

func (sc *scriptedCompanion) read(t *testing.T) *codec.Envelope {
	t.Helper()
	body, err := sc.framer.ReadFrame(sc.fromHost)
	require.NoError(t, err)
	env, err := sc.codec.Decode(body)
	require.NoError(t, err)
	return env
}

func (sc *scriptedCompanion) writeRaw(t *testing.T, body []byte) {
	t.Helper()
	require.NoError(t, sc.framer.WriteFrame(sc.toHost, body))
}

func (sc *scriptedCompanion) write(t *testing.T, env *codec.Envelope) {
	t.Helper()
	body, err := sc.codec.Encode(env)
	require.NoError(t, err)
	sc.writeRaw(t, body)
}

func (sc *scriptedCompanion) reply(t *testing.T, id string, res command.Result) {
	t.Helper()
	payload, err := command.EncodeResult(res)
	require.NoError(t, err)
	sc.write(t, &codec.Envelope{Kind: codec.KindResult, CorrelationID: id, Payload: payload})
}

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Launch(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (companion.Companion, error) {
	args := m.Called(ctx, framer, log)
	c, _ := args.Get(0).(companion.Companion)
	return c, args.Error(1)
}

type unknownCommand struct{}

func (unknownCommand) Name() string { return "mystery" }

func TestBridge_LaunchFailure(t *testing.T) {
	t.Parallel()

	t.Run("plain error is wrapped", func(t *testing.T) {
		t.Parallel()
		launcher := &mockLauncher{}
		cause := errors.New("executable not found")
		launcher.On("Launch", mock.Anything, mock.Anything, mock.Anything).Return(nil, cause)

		b, err := New(context.Background(), launcher)
		require.Error(t, err)
		assert.Nil(t, b)

		var le *LaunchError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, companion.LaunchErrorStart, le.Type)
		assert.ErrorIs(t, err, cause)
		launcher.AssertExpectations(t)
	})

	t.Run("state is untouched", func(t *testing.T) {
		t.Parallel()
		launcher := &mockLauncher{}
		launcher.On("Launch", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no display"))

		m := NewMetrics()
		m.State = prometheus.NewGauge(prometheus.GaugeOpts{Name: "state"})
		_, err := New(context.Background(), launcher, WithLogger(zerolog.Nop()), WithMetrics(m))
		require.Error(t, err)
		assert.Equal(t, float64(StateUnstarted), testutil.ToFloat64(m.State))
	})

	t.Run("launch error is returned as is", func(t *testing.T) {
		t.Parallel()
		launcher := &mockLauncher{}
		launchErr := companion.NewLaunchError(companion.LaunchErrorEarlyExit, "companion exited").WithExit(3, []string{"profile is locked"})
		launcher.On("Launch", mock.Anything, mock.Anything, mock.Anything).Return(nil, launchErr)

		_, err := New(context.Background(), launcher)
		var le *LaunchError
		require.ErrorAs(t, err, &le)
		assert.Same(t, launchErr, le)
		assert.Equal(t, 3, le.ExitCode)
	})

	t.Run("nil launcher", func(t *testing.T) {
		t.Parallel()
		_, err := New(context.Background(), nil)
		var le *LaunchError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, companion.LaunchErrorConfig, le.Type)
	})
}

func TestBridge_SendBeforeRun(t *testing.T) {
	t.Parallel()

	b, err := New(context.Background(), bridgetest.Launcher(bridgetest.NewEchoCompanion()), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer b.Stop()

	res := awaitResult(t, b.Send(command.Ping{}))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), ErrNotRunning)
	assert.Zero(t, b.table.Len())
}

func TestBridge_PingReturnsPong(t *testing.T) {
	t.Parallel()
	b := startEcho(t, bridgetest.NewEchoCompanion())

	res, err := b.Call(context.Background(), command.Ping{}, testTimeout)
	require.NoError(t, err)
	s, err := res.Value.AsString()
	require.NoError(t, err)
	assert.Equal(t, "pong", s)

	res, err = b.Ping(context.Background(), testTimeout)
	require.NoError(t, err)
	s, err = res.Value.AsString()
	require.NoError(t, err)
	assert.Equal(t, "pong", s)
}

func TestBridge_RoundTrip(t *testing.T) {
	t.Parallel()
	b := startEcho(t, bridgetest.NewEchoCompanion())

	res, err := b.QuerySongData(context.Background(), "https://example.com/song", testTimeout)
	require.NoError(t, err)

	var meta command.SongMetadata
	require.NoError(t, res.Value.Decode(&meta))
	assert.Equal(t, "https://example.com/song", meta.URL)
	assert.Equal(t, bridgetest.DefaultSongLength, meta.Duration)

	res, err = b.PingNumber(context.Background(), 7, testTimeout)
	require.NoError(t, err)
	n, err := res.Value.AsInt()
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}

func TestBridge_ConcurrentNumberedPings(t *testing.T) {
	t.Parallel()

	// Later pings are answered first.
	echo := bridgetest.NewEchoCompanion(bridgetest.WithReplyDelay(func(cmd command.Command) time.Duration {
		if p, ok := cmd.(command.NumberedPing); ok {
			return time.Duration(3-p.Index) * 30 * time.Millisecond
		}
		return 0
	}))
	b := startEcho(t, echo)

	futures := make([]*correlation.Future, 3)
	for i := range futures {
		futures[i] = b.Send(command.NumberedPing{Index: i})
	}

	for i, f := range futures {
		res := awaitResult(t, f)
		require.True(t, res.Success, res.Error)
		v, err := res.Value.AsFloat()
		require.NoError(t, err)
		assert.Equal(t, float64(i), v)
	}
	assert.Zero(t, b.table.Len())
}

func TestBridge_CorrelationUniqueness(t *testing.T) {
	t.Parallel()
	b := startEcho(t, bridgetest.NewEchoCompanion(), WithQueueSize(256))

	const n = 100
	futures := make([]*correlation.Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = b.Send(command.NumberedPing{Index: i})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i, f := range futures {
		require.False(t, seen[f.ID()], "duplicate id %s", f.ID())
		seen[f.ID()] = true

		res := awaitResult(t, f)
		require.True(t, res.Success, res.Error)
		v, err := res.Value.AsInt()
		require.NoError(t, err)
		assert.EqualValues(t, i, v)
	}
}

func TestBridge_DuplicateIDRejected(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	first := b.SendWithID("fixed", command.Ping{})
	second := b.SendWithID("fixed", command.Ping{})

	res := awaitResult(t, second)
	assert.ErrorIs(t, res.Err(), correlation.ErrDuplicateID)

	env := sc.read(t)
	assert.Equal(t, "fixed", env.CorrelationID)
	sc.reply(t, "fixed", command.Success(command.MustValue("pong")))
	assert.True(t, awaitResult(t, first).Success)
}

func TestBridge_NoOrphanLeak(t *testing.T) {
	t.Parallel()

	echo := bridgetest.NewEchoCompanion(bridgetest.WithReplyDelay(func(cmd command.Command) time.Duration {
		if _, ok := cmd.(command.SongDataQuery); ok {
			return 100 * time.Millisecond
		}
		return 0
	}))
	b := startEcho(t, echo)

	for i := 0; i < 10; i++ {
		_, err := b.PingNumber(context.Background(), i, testTimeout)
		require.NoError(t, err)
	}
	assert.Empty(t, b.Pending())

	// The caller gives up first; the entry stays until the late reply lands.
	_, err := b.QuerySongData(context.Background(), "slow", 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, b.Pending(), 1)
	assert.Equal(t, command.NameSongData, b.Pending()[0].Label)

	require.Eventually(t, func() bool { return len(b.Pending()) == 0 }, testTimeout, 10*time.Millisecond)
}

func TestBridge_LateReplyIsOrphan(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	f := b.Send(command.QueryStatus{})
	env := sc.read(t)
	sc.reply(t, env.CorrelationID, command.Success(command.MustValue("PLAYING")))
	assert.True(t, awaitResult(t, f).Success)

	// Duplicate and unknown replies are dropped.
	sc.reply(t, env.CorrelationID, command.Success(command.MustValue("PAUSED")))
	sc.reply(t, "never-sent", command.Success(command.Value{}))

	require.Eventually(t, func() bool { return b.Stats().Orphans == 2 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, StateRunning, b.State())
}

func TestBridge_StopDrainsPending(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	futures := make([]*correlation.Future, 5)
	for i := range futures {
		futures[i] = b.Send(command.NumberedPing{Index: i})
	}
	// The first frame reaches the companion; the rest may still be queued.
	sc.read(t)

	require.NoError(t, b.Stop())
	require.NoError(t, b.waitRun(t))
	assert.Equal(t, StateStopped, b.State())

	for _, f := range futures {
		res := awaitResult(t, f)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err(), ErrBridgeStopped)
	}
	assert.Zero(t, b.table.Len())

	// Stop is idempotent and sends after it fail immediately.
	require.NoError(t, b.Stop())
	res := awaitResult(t, b.Send(command.Ping{}))
	assert.ErrorIs(t, res.Err(), ErrNotRunning)
	assert.ErrorIs(t, b.Run(context.Background()), ErrBridgeStopped)
}

func TestBridge_FrameIsolation(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	f := b.Send(command.QueryLength{})
	env := sc.read(t)

	sc.writeRaw(t, []byte("{not json"))
	sc.writeRaw(t, []byte(`{"kind":"mystery","correlationId":"x"}`))
	sc.reply(t, env.CorrelationID, command.Success(command.MustValue(180.5)))

	res := awaitResult(t, f)
	require.True(t, res.Success, res.Error)
	v, err := res.Value.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 180.5, v)

	assert.EqualValues(t, 2, b.Stats().DecodeErrors)
	assert.Equal(t, StateRunning, b.State())
}

func TestBridge_ProtocolCorruption(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher, WithMaxDecodeFailures(3))

	f := b.Send(command.QueryTime{})
	sc.read(t)

	for i := 0; i < 3; i++ {
		sc.writeRaw(t, []byte(fmt.Sprintf("garbage %d", i)))
	}

	res := awaitResult(t, f)
	assert.ErrorIs(t, res.Err(), ErrProtocolCorruption)
	assert.ErrorIs(t, b.waitRun(t), ErrProtocolCorruption)
	assert.Equal(t, StateStopped, b.State())
}

func TestBridge_CompanionDiesMidFlight(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	first := b.Send(command.NumberedPing{Index: 0})
	second := b.Send(command.NumberedPing{Index: 1})
	sc.read(t)
	sc.read(t)

	require.NoError(t, sc.toHost.Close())

	for _, f := range []*correlation.Future{first, second} {
		res := awaitResult(t, f)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err(), ErrCompanionDisconnected)
	}
	assert.ErrorIs(t, b.waitRun(t), ErrCompanionDisconnected)
	assert.Equal(t, StateStopped, b.State())
}

func TestBridge_Backpressure(t *testing.T) {
	t.Parallel()
	// The scripted companion never reads, so the writer stalls on the first frame.
	_, launcher := newScriptedCompanion()
	b := startBridge(t, launcher, WithQueueSize(1))

	futures := make([]*correlation.Future, 10)
	for i := range futures {
		futures[i] = b.Send(command.NumberedPing{Index: i})
	}

	rejected := 0
	for _, f := range futures {
		if res, done := f.Result(); done {
			require.ErrorIs(t, res.Err(), ErrBackpressure)
			rejected++
		}
	}
	assert.GreaterOrEqual(t, rejected, 8)
	assert.Equal(t, 10-rejected, b.table.Len())

	require.NoError(t, b.Stop())
	for _, f := range futures {
		_ = awaitResult(t, f)
	}
	assert.Zero(t, b.table.Len())
}

func TestBridge_UnknownCommand(t *testing.T) {
	t.Parallel()
	b := startEcho(t, bridgetest.NewEchoCompanion())

	for _, cmd := range []command.Command{nil, unknownCommand{}, command.Custom{}} {
		res := awaitResult(t, b.Send(cmd))
		assert.ErrorIs(t, res.Err(), ErrUnknownCommand, "%T", cmd)
	}
	assert.Zero(t, b.table.Len())
	assert.Equal(t, StateRunning, b.State())
}

func TestBridge_RemoteFailure(t *testing.T) {
	t.Parallel()

	for _, legacy := range []bool{false, true} {
		legacy := legacy
		t.Run(fmt.Sprintf("legacy=%v", legacy), func(t *testing.T) {
			t.Parallel()
			var opts []bridgetest.Option
			if legacy {
				opts = append(opts, bridgetest.WithLegacyReplies())
			}
			b := startEcho(t, bridgetest.NewEchoCompanion(opts...))

			res, err := b.Call(context.Background(), command.ErrorProbe{Forward: true}, testTimeout)
			require.Error(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "test error raised in tab")

			var remote *command.RemoteError
			assert.ErrorAs(t, err, &remote)

			res, err = b.PingNumber(context.Background(), 4, testTimeout)
			require.NoError(t, err)
			v, err := res.Value.AsFloat()
			require.NoError(t, err)
			assert.Equal(t, 4.0, v)
		})
	}
}

func TestBridge_CompanionPingAnswered(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	before := b.LastSeen()
	time.Sleep(5 * time.Millisecond)
	sc.write(t, &codec.Envelope{Kind: codec.KindPing})

	env := sc.read(t)
	assert.Equal(t, codec.KindPong, env.Kind)
	assert.Empty(t, env.CorrelationID)
	assert.True(t, b.LastSeen().After(before))
}

func TestBridge_PingIsBareCommand(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	type pingResult struct {
		res command.Result
		err error
	}
	done := make(chan pingResult, 1)
	go func() {
		res, err := b.Ping(context.Background(), testTimeout)
		done <- pingResult{res, err}
	}()

	env := sc.read(t)
	assert.Equal(t, codec.KindCommand, env.Kind)
	assert.NotEmpty(t, env.CorrelationID)
	assert.JSONEq(t, `"ping"`, string(env.Payload))

	// An id-less pong only refreshes liveness.
	sc.write(t, &codec.Envelope{Kind: codec.KindPong})
	sc.reply(t, env.CorrelationID, command.Success(command.MustValue("pong")))

	select {
	case got := <-done:
		require.NoError(t, got.err)
		s, err := got.res.Value.AsString()
		require.NoError(t, err)
		assert.Equal(t, "pong", s)
	case <-time.After(testTimeout):
		t.Fatal("ping did not complete")
	}

	assert.Zero(t, b.Stats().Orphans)
	assert.Equal(t, StateRunning, b.State())
}

func TestBridge_ReplyWriteFailureKeepsRequestForShutdown(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	b := startBridge(t, launcher)

	fut := b.SendWithID("c-7", command.Ping{})
	env := sc.read(t)
	require.Equal(t, "c-7", env.CorrelationID)

	// The host's rejection reply reuses c-7 and cannot be written.
	require.NoError(t, sc.fromHost.Close())
	sc.write(t, &codec.Envelope{Kind: codec.KindCommand, CorrelationID: "c-7", Payload: []byte(`"ping"`)})

	res := awaitResult(t, fut)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), ErrCompanionDisconnected)
	assert.ErrorContains(t, res.Err(), "stream closed")
	assert.ErrorIs(t, b.waitRun(t), ErrCompanionDisconnected)
}

func TestBridge_CommandFromCompanionRejected(t *testing.T) {
	t.Parallel()
	sc, launcher := newScriptedCompanion()
	startBridge(t, launcher)

	sc.write(t, &codec.Envelope{Kind: codec.KindCommand, CorrelationID: "c-9", Payload: []byte(`"ping"`)})

	env := sc.read(t)
	assert.Equal(t, codec.KindResult, env.Kind)
	assert.Equal(t, "c-9", env.CorrelationID)
	res, err := command.DecodeResult(env.Payload)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestBridge_UpdatesRouted(t *testing.T) {
	t.Parallel()
	echo := bridgetest.NewEchoCompanion()
	b := startEcho(t, echo)

	got := make(chan command.PlaybackInfo, 1)
	b.Router().Register(command.UpdatePlayback, func(_ context.Context, u command.Update) error {
		info, err := u.Playback()
		if err != nil {
			return err
		}
		got <- info
		return nil
	})
	assert.Equal(t, []string{command.UpdateLog, command.UpdatePlayback}, b.Router().GetHandlers())

	require.NoError(t, echo.PushUpdate(command.UpdateLog, command.CompanionLog{Logger: "tab", Level: "warn", Message: []any{"slow", 3}}))
	require.NoError(t, echo.PushUpdate(command.UpdatePlayback, command.PlaybackInfo{Status: command.StatusPlaying, Time: 12, Length: 180}))

	select {
	case info := <-got:
		assert.Equal(t, command.StatusPlaying, info.Status)
		assert.Equal(t, 12.0, info.Time)
	case <-time.After(testTimeout):
		t.Fatal("playback update not routed")
	}
	assert.EqualValues(t, 2, b.Stats().Updates)
}

func TestBridge_SerialRequests(t *testing.T) {
	t.Parallel()

	delay := bridgetest.WithReplyDelay(func(cmd command.Command) time.Duration {
		if p, ok := cmd.(command.NumberedPing); ok {
			return time.Duration(2-p.Index) * 40 * time.Millisecond
		}
		return 0
	})

	completionOrder := func(b *runningBridge) []int {
		var (
			mu    sync.Mutex
			order []int
			wg    sync.WaitGroup
		)
		for i := 0; i < 3; i++ {
			f := b.Send(command.NumberedPing{Index: i})
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = f.AwaitTimeout(testTimeout)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		return order
	}

	serial := startEcho(t, bridgetest.NewEchoCompanion(delay), WithSerialRequests())
	assert.Equal(t, []int{0, 1, 2}, completionOrder(serial))

	concurrent := startEcho(t, bridgetest.NewEchoCompanion(delay))
	assert.Equal(t, []int{2, 1, 0}, completionOrder(concurrent))
}

func TestBridge_ContextCancelStops(t *testing.T) {
	t.Parallel()

	b, err := New(context.Background(), bridgetest.Launcher(bridgetest.NewEchoCompanion()), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()
	<-b.Ready()

	assert.ErrorIs(t, b.Run(context.Background()), ErrNotRunning)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, b.State())
	<-b.Done()
}

func TestBridge_ProtobufCodec(t *testing.T) {
	t.Parallel()
	pb := codec.NewProtobufCodec(codec.DefaultMaxMessageSize)
	b := startEcho(t, bridgetest.NewEchoCompanion(bridgetest.WithCodec(pb)), WithCodec(pb))

	res, err := b.PingNumber(context.Background(), 2, testTimeout)
	require.NoError(t, err)
	n, err := res.Value.AsInt()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	res, err = b.Ping(context.Background(), testTimeout)
	require.NoError(t, err)
	s, err := res.Value.AsString()
	require.NoError(t, err)
	assert.Equal(t, "pong", s)

	assert.Equal(t, "protobuf", b.Stats().Codec)
}

func TestBridge_Stats(t *testing.T) {
	t.Parallel()
	b := startEcho(t, bridgetest.NewEchoCompanion())

	for i := 0; i < 3; i++ {
		_, err := b.PingNumber(context.Background(), i, testTimeout)
		require.NoError(t, err)
	}

	stats := b.Stats()
	assert.Equal(t, "running", stats.State)
	assert.Equal(t, b.SessionID(), stats.SessionID)
	assert.EqualValues(t, 3, stats.Sent)
	assert.EqualValues(t, 3, stats.Received)
	assert.EqualValues(t, 3, stats.Channel.FramesWritten)
	assert.Zero(t, stats.Pending)
	assert.False(t, stats.StartedAt.IsZero())
}
