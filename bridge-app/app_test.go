package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universe-player/bridge/bridge-app/config"
	"github.com/universe-player/bridge/x/bridge/bridgetest"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
	"github.com/universe-player/bridge/x/logqueue"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Companion.TerminateGrace = 100 * time.Millisecond
	cfg.API.Enabled = true
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Metrics.Enabled = true
	cfg.Heartbeat.Interval = 50 * time.Millisecond
	cfg.Heartbeat.Timeout = 40 * time.Millisecond
	cfg.LogForward.Enabled = true
	cfg.LogForward.Interval = 20 * time.Millisecond
	return cfg
}

func startApp(t *testing.T, cfg *config.Config, echo *bridgetest.EchoCompanion, queue *logqueue.Queue) (*App, context.CancelFunc, <-chan error) {
	t.Helper()

	app, err := newApp(context.Background(), cfg, zerolog.Nop(), queue, bridgetest.Launcher(echo))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return app.apiServer.Addr() != nil
	}, 2*time.Second, 5*time.Millisecond)
	return app, cancel, errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
		return nil
	}
}

func get(t *testing.T, app *App, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+app.apiServer.Addr().String()+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApp_ServesAndShutsDown(t *testing.T) {
	echo := bridgetest.NewEchoCompanion()
	queue := logqueue.NewQueue(16)
	app, cancel, errCh := startApp(t, testConfig(), echo, queue)

	code, body := get(t, app, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, code, body)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health["status"])

	code, body = get(t, app, http.MethodPost, "/commands/ping")
	assert.Equal(t, http.StatusOK, code, body)

	code, body = get(t, app, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "player_bridge_state")

	require.Eventually(t, func() bool {
		return app.monitor.Status().Probes > 0
	}, 2*time.Second, 10*time.Millisecond)

	queue.Append(command.LogRecord{Time: time.Now(), Level: "info", Message: "host started"})
	require.Eventually(t, func() bool {
		return len(echo.ForwardedLogs()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, "stopped", app.bridge.State().String())
}

func TestApp_StopsWhenBridgeStops(t *testing.T) {
	cfg := testConfig()
	cfg.LogForward.Enabled = false
	app, _, errCh := startApp(t, cfg, bridgetest.NewEchoCompanion(), nil)
	assert.Nil(t, app.forwarder)

	require.NoError(t, app.bridge.Stop())
	assert.NoError(t, waitErr(t, errCh))
}

func TestApp_MetricsOnlyServer(t *testing.T) {
	cfg := testConfig()
	cfg.API.Enabled = false
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	cfg.Heartbeat.Enabled = false

	app, err := newApp(context.Background(), cfg, zerolog.Nop(), nil, bridgetest.Launcher(bridgetest.NewEchoCompanion()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.bridge.Stop() })

	assert.Nil(t, app.apiServer)
	assert.Nil(t, app.monitor)
	require.NotNil(t, app.metricsServer)
}

func TestApp_UnknownCodec(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Codec = "xml"
	_, err := newApp(context.Background(), cfg, zerolog.Nop(), nil, bridgetest.Launcher(bridgetest.NewEchoCompanion()))
	assert.ErrorContains(t, err, "unknown codec")
}

func TestLauncher_Modes(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Companion.Path = "/opt/player/companion"

	proc, ok := launcher(cfg).(*companion.ProcessLauncher)
	require.True(t, ok)
	assert.Equal(t, "/opt/player/companion", proc.Path)

	cfg.Companion.Mode = config.ModeSocket
	sock, ok := launcher(cfg).(*companion.SocketLauncher)
	require.True(t, ok)
	assert.Equal(t, cfg.Transport.SocketAddr, sock.Addr)
	assert.Equal(t, cfg.Transport.AcceptTimeout, sock.Timeouts.Accept)
	assert.Equal(t, "/opt/player/companion", sock.Process.Path)
}
