package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universe-player/bridge/server/api/middleware"
	"github.com/universe-player/bridge/x/bridge"
	"github.com/universe-player/bridge/x/bridge/bridgetest"
	"github.com/universe-player/bridge/x/heartbeat"
)

func newTestServer(t *testing.T) (*Server, *bridge.Bridge) {
	t.Helper()

	b, err := bridge.New(context.Background(), bridgetest.Launcher(bridgetest.NewEchoCompanion()), bridge.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	go func() { _ = b.Run(context.Background()) }()
	<-b.Ready()
	t.Cleanup(func() { _ = b.Stop() })

	log := zerolog.Nop()
	s := NewServer(DefaultConfig(), log)
	s.Use(middleware.RequestID())
	s.Use(middleware.Recover(log))
	s.Use(middleware.Logger(log))
	RegisterBridgeRoutes(s, b, func() heartbeat.Status {
		return heartbeat.Status{Probes: 3, LastRTT: time.Millisecond}
	})
	return s, b
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_Status(t *testing.T) {
	t.Parallel()
	s, b := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	body := decodeBody(t, rec)
	br := body["bridge"].(map[string]any)
	assert.Equal(t, "running", br["state"])
	assert.Equal(t, b.SessionID(), br["session_id"])
	hb := body["heartbeat"].(map[string]any)
	assert.EqualValues(t, 3, hb["probes"])
}

func TestServer_Ping(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPost, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pong", decodeBody(t, rec)["value"])

	rec = do(t, s.Handler(), http.MethodPost, "/ping?timeout=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Commands(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	tests := []struct {
		name    string
		target  string
		body    string
		status  int
		success bool
		value   any
	}{
		{"bare ping", "/commands/ping", "", http.StatusOK, true, "pong"},
		{"numbered ping", "/commands/numberPing", `{"index":2}`, http.StatusOK, true, 2.0},
		{"song data", "/commands/getSongData", `{"url":"u1"}`, http.StatusOK, true, nil},
		{"remote failure", "/commands/error", `{"forward":false}`, http.StatusOK, false, nil},
		{"unsupported by companion", "/commands/shuffle", `{"on":true}`, http.StatusOK, false, nil},
		{"bad body", "/commands/numberPing", `[1,2]`, http.StatusBadRequest, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodPost, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			if tt.status != http.StatusOK {
				errBody := body["error"].(map[string]any)
				assert.NotEmpty(t, errBody["request_id"])
				return
			}
			assert.Equal(t, tt.success, body["success"])
			if tt.value != nil {
				assert.Equal(t, tt.value, body["value"])
			}
			if !tt.success {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestServer_PendingAndStopped(t *testing.T) {
	t.Parallel()
	s, b := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["pending"])

	require.NoError(t, b.Stop())
	rec = do(t, s.Handler(), http.MethodPost, "/commands/ping", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeBody(t, rec)["error"].(map[string]any)["code"])
}

func TestServer_RecoverAndRequestID(t *testing.T) {
	t.Parallel()
	log := zerolog.Nop()
	s := NewServer(DefaultConfig(), log)
	s.Use(middleware.RequestID())
	s.Use(middleware.Recover(log))
	s.Router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "req-42", decodeBody(t, rec)["error"].(map[string]any)["request_id"])
}

func TestServer_CORSAndMetrics(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"http://localhost:3000"}
	s := NewServer(cfg, zerolog.Nop())
	s.EnableCORS()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "api_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	RegisterMetrics(s, "", reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_test_total 1")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StartAndShutdown(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	s := NewServer(cfg, zerolog.Nop())
	s.Router.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr().String() + "/ok")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
